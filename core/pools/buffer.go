package pools

// Buffer is a growable byte buffer that is reused across requests on the
// same connection. Resetting truncates but never frees the backing array;
// the only way to release memory is an explicit Free at server teardown.
type Buffer struct {
	b []byte
}

// NewBuffer creates a buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, capacity)}
}

// Bytes returns the buffered data. The slice is only valid until the next
// mutating call.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.b)
}

// Cap returns the capacity of the backing array.
func (b *Buffer) Cap() int {
	return cap(b.b)
}

// Reset truncates the buffer, keeping the backing array.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
}

// Free releases the backing array. The buffer must not be used afterwards.
func (b *Buffer) Free() {
	b.b = nil
}

// Freed reports whether Free has been called.
func (b *Buffer) Freed() bool {
	return b.b == nil
}

// Append appends raw bytes.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendString appends a string without an intermediate copy.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.b = append(b.b, c)
}

// AppendInt appends the decimal representation of i.
func (b *Buffer) AppendInt(i int) {
	if i == 0 {
		b.b = append(b.b, '0')
		return
	}

	if i < 0 {
		b.b = append(b.b, '-')
		i = -i
	}

	var digits [20]byte
	n := 0
	for i > 0 {
		digits[n] = byte('0' + i%10)
		i /= 10
		n++
	}

	for n > 0 {
		n--
		b.b = append(b.b, digits[n])
	}
}

// WritableChunk returns a spare slice of at least min bytes past the current
// length, growing the backing array if needed. Call Extend after filling it.
func (b *Buffer) WritableChunk(min int) []byte {
	if cap(b.b)-len(b.b) < min {
		grown := make([]byte, len(b.b), 2*cap(b.b)+min)
		copy(grown, b.b)
		b.b = grown
	}
	return b.b[len(b.b):cap(b.b)]
}

// Extend marks n bytes of the writable chunk as filled.
func (b *Buffer) Extend(n int) {
	b.b = b.b[:len(b.b)+n]
}

// Discard drops the first n buffered bytes, moving the remainder to the
// front so the backing array keeps being reused.
func (b *Buffer) Discard(n int) {
	if n >= len(b.b) {
		b.b = b.b[:0]
		return
	}
	remaining := copy(b.b, b.b[n:])
	b.b = b.b[:remaining]
}
