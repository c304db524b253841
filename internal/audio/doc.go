// Package audio inspects, decodes and plays synthesized speech.
//
// Probe reports container and codec metadata for the common formats TTS
// engines return (WAV, MP3, AAC/ADTS, Ogg Vorbis and Opus) without decoding
// them. Decode turns WAV and MP3 into 16-bit PCM, and Player plays it through
// the oto/v3 library.
package audio
