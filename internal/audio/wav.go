package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// ErrNotWAV is returned by DecodeWAV for input without a RIFF/WAVE PCM header.
var ErrNotWAV = errors.New("not a PCM wav file")

// EncodeWAV wraps raw s16le PCM in a canonical 44-byte RIFF header so upload
// endpoints that sniff containers accept it.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	out.WriteString("RIFF")
	_ = binary.Write(out, binary.LittleEndian, uint32(36+len(pcm)))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	_ = binary.Write(out, binary.LittleEndian, uint32(16))
	_ = binary.Write(out, binary.LittleEndian, uint16(1))
	_ = binary.Write(out, binary.LittleEndian, uint16(channels))
	_ = binary.Write(out, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(out, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(out, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(out, binary.LittleEndian, uint16(bitsPerSample))
	out.WriteString("data")
	_ = binary.Write(out, binary.LittleEndian, uint32(len(pcm)))
	out.Write(pcm)
	return out.Bytes()
}

// DecodeWAV returns the PCM payload and format of a canonical header written by EncodeWAV.
func DecodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, 0, 0, ErrNotWAV
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return nil, 0, 0, ErrNotWAV
	}
	channels = int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate = int(binary.LittleEndian.Uint32(data[24:28]))
	size := int(binary.LittleEndian.Uint32(data[40:44]))
	if size > len(data)-wavHeaderSize {
		size = len(data) - wavHeaderSize
	}
	return data[wavHeaderSize : wavHeaderSize+size], sampleRate, channels, nil
}
