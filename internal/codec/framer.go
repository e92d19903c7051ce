package codec

// Framer cuts an arbitrary stream of PCM chunks into fixed-size frames and
// carries the remainder across calls.
type Framer struct {
	size int
	buf  []int16
}

func NewFramer(samplesPerFrame int) *Framer {
	if samplesPerFrame <= 0 {
		samplesPerFrame = 960
	}
	return &Framer{size: samplesPerFrame, buf: make([]int16, 0, samplesPerFrame)}
}

func (f *Framer) Size() int    { return f.size }
func (f *Framer) Pending() int { return len(f.buf) }

// Push appends pcm and returns every complete frame now available.
func (f *Framer) Push(pcm []int16) [][]int16 {
	var out [][]int16
	for len(pcm) > 0 {
		n := min(f.size-len(f.buf), len(pcm))
		f.buf = append(f.buf, pcm[:n]...)
		pcm = pcm[n:]
		if len(f.buf) == f.size {
			frame := make([]int16, f.size)
			copy(frame, f.buf)
			out = append(out, frame)
			f.buf = f.buf[:0]
		}
	}
	return out
}

// Flush returns the buffered tail zero-padded to a full frame, or nil.
func (f *Framer) Flush() []int16 {
	if len(f.buf) == 0 {
		return nil
	}
	frame := make([]int16, f.size)
	copy(frame, f.buf)
	f.buf = f.buf[:0]
	return frame
}

func (f *Framer) Reset() { f.buf = f.buf[:0] }
