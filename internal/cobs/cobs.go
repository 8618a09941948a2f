// Package cobs implements Consistent Overhead Byte Stuffing, the framing used
// by the OBS serial link and the on-disk trip log. Each message is stuffed so
// that it contains no zero bytes and is followed by a single 0x00 delimiter.
package cobs

// Delimiter terminates every frame on the wire and in the log.
const Delimiter byte = 0x00

// maxRun is the longest run of non-zero bytes a single code byte can describe.
const maxRun = 254

// Stuff encodes payload so that the result contains no zero bytes. The
// terminating Delimiter is not included. Nil or empty input yields an empty
// result.
func Stuff(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte{}
	}

	out := make([]byte, 0, len(payload)+len(payload)/maxRun+2)
	i := 0
	endedOnZero := false
	for i < len(payload) {
		codeIdx := len(out)
		out = append(out, 0) // placeholder for the code byte
		code := byte(1)
		endedOnZero = false

		for i < len(payload) && code < 0xFF {
			b := payload[i]
			i++
			if b == 0 {
				endedOnZero = true
				break
			}
			out = append(out, b)
			code++
		}
		out[codeIdx] = code
	}

	// A trailing zero needs an explicit empty run, otherwise the decoder has
	// nothing after it to trigger the implicit zero.
	if endedOnZero {
		out = append(out, 0x01)
	}
	return out
}

// Unstuff decodes a stuffed frame. A trailing Delimiter is ignored. A zero
// code byte marks a corrupt frame and decoding stops there; a final run that
// claims more bytes than remain is copied as far as it goes. Unstuff never
// panics, so callers can resynchronise on the next delimiter.
func Unstuff(frame []byte) []byte {
	if len(frame) == 0 {
		return []byte{}
	}

	end := len(frame)
	if frame[end-1] == Delimiter {
		end--
	}

	out := make([]byte, 0, end)
	i := 0
	for i < end {
		code := int(frame[i])
		if code == 0 {
			break
		}
		i++

		runEnd := i + code - 1
		if runEnd > end {
			runEnd = end
		}
		out = append(out, frame[i:runEnd]...)
		i = runEnd

		if code < 0xFF && i < end {
			out = append(out, 0)
		}
	}
	return out
}

// AppendFrame appends the stuffed payload and its Delimiter to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, Stuff(payload)...)
	return append(dst, Delimiter)
}

// SplitFrames splits a byte log on Delimiter. Empty runs (consecutive
// delimiters) are skipped. A trailing run without a delimiter is returned as
// well; Unstuff will decode whatever it holds. The returned slices alias log.
func SplitFrames(log []byte) [][]byte {
	var frames [][]byte
	start := 0
	for i, b := range log {
		if b != Delimiter {
			continue
		}
		if i > start {
			frames = append(frames, log[start:i])
		}
		start = i + 1
	}
	if start < len(log) {
		frames = append(frames, log[start:])
	}
	return frames
}
