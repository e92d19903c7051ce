package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadWAV returns mono PCM16 samples and the sample rate of a RIFF/WAVE stream.
// Stereo input is averaged to mono. Only 16-bit PCM is supported.
func ReadWAV(r io.Reader) ([]int16, int, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a WAV")
	}
	off := 12
	var dataOff, dataLen int
	var channels uint16 = 1
	var rate uint32
	for off+8 <= len(b) {
		cid := string(b[off : off+4])
		csz := int(binary.LittleEndian.Uint32(b[off+4:]))
		off += 8
		switch cid {
		case "fmt ":
			if off+16 > len(b) {
				return nil, 0, fmt.Errorf("bad fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(b[off:])
			channels = binary.LittleEndian.Uint16(b[off+2:])
			rate = binary.LittleEndian.Uint32(b[off+4:])
			bits := binary.LittleEndian.Uint16(b[off+14:])
			if tag != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("unsupported WAV format tag=%d bits=%d", tag, bits)
			}
		case "data":
			dataOff, dataLen = off, csz
		}
		if dataOff > 0 {
			break
		}
		off += csz + csz%2
	}
	if dataOff <= 0 {
		return nil, 0, fmt.Errorf("no data chunk")
	}
	// Streaming writers often leave the data size as 0 or oversized.
	if dataLen <= 0 || dataOff+dataLen > len(b) {
		dataLen = len(b) - dataOff
	}
	pcm := BytesToInt16(b[dataOff : dataOff+dataLen-dataLen%2])
	if channels == 2 {
		mono := make([]int16, len(pcm)/2)
		for i := range mono {
			mono[i] = int16((int32(pcm[2*i]) + int32(pcm[2*i+1])) / 2)
		}
		pcm = mono
	}
	return pcm, int(rate), nil
}

// WriteWAV encodes mono PCM16 as a canonical 44-byte-header WAV.
func WriteWAV(w io.Writer, pcm []int16, rate int) error {
	data := Int16ToBytes(pcm)
	hdr := make([]byte, 44)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+len(data)))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1)
	binary.LittleEndian.PutUint16(hdr[22:], 1)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(rate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(rate*2))
	binary.LittleEndian.PutUint16(hdr[32:], 2)
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(len(data)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
