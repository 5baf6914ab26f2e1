package mix

// resampler converts interleaved float frames between sample rates by
// linear interpolation. Input is pushed incrementally; it keeps only the
// frames it still needs to interpolate from.
type resampler struct {
	ch   int
	step float64 // source frames advanced per output frame
	pos  float64 // read position into buf, in frames
	buf  []float64
}

func newResampler(inRate, outRate, channels int) *resampler {
	return &resampler{
		ch:   channels,
		step: float64(inRate) / float64(outRate),
	}
}

func (r *resampler) push(frames []float64) {
	r.buf = append(r.buf, frames...)
}

// pull writes up to len(out)/ch frames at the output rate and returns how
// many it wrote. With final set the last buffered frame is emitted without
// waiting for a right neighbour.
func (r *resampler) pull(out []float64, final bool) int {
	avail := len(r.buf) / r.ch
	n := 0
	for (n+1)*r.ch <= len(out) {
		i := int(r.pos)
		if i >= avail {
			break
		}
		frac := r.pos - float64(i)
		dst := out[n*r.ch : (n+1)*r.ch]
		cur := r.buf[i*r.ch : (i+1)*r.ch]

		switch {
		case i+1 < avail:
			next := r.buf[(i+1)*r.ch : (i+2)*r.ch]
			for c := range dst {
				dst[c] = cur[c] + (next[c]-cur[c])*frac
			}
		case final || frac == 0:
			copy(dst, cur)
		default:
			// Need the next pushed frame to interpolate.
			r.compact(avail)
			return n
		}

		n++
		r.pos += r.step
	}
	r.compact(avail)
	return n
}

// compact drops the frames the read position has moved past.
func (r *resampler) compact(avail int) {
	drop := min(int(r.pos), avail)
	if drop == 0 {
		return
	}
	r.buf = append(r.buf[:0], r.buf[drop*r.ch:]...)
	r.pos -= float64(drop)
}
