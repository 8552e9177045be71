// Package audio handles capture, quantization, and chunking of live audio.
// It converts float32 sample blocks into fixed-size, overlapping PCM-16
// chunks buffered in a fixed-capacity ring, gates each chunk on RMS energy
// so silent audio is never streamed, and provides WAV encode/decode plus
// file- and tone-backed capture sources.
package audio
