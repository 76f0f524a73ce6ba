package binlog

import "fmt"

// recordReader walks a record body. Every read checks bounds first and
// returns ErrMalformedRecord instead of letting a conversion panic on
// truncated input.
type recordReader struct {
	buf []byte
	pos int
}

func (r *recordReader) need(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d, record has %d", ErrMalformedRecord, n, r.pos, len(r.buf))
	}
	return nil
}

func (r *recordReader) uint(n int) (uint32, error) {
	if err := r.need(n); err != nil {
		return 0, err
	}
	v := UnsignedInt(r.buf, r.pos, n)
	r.pos += n
	return v, nil
}

func (r *recordReader) short() (int32, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := Signed2(r.buf, r.pos)
	r.pos += 2
	return v, nil
}

func (r *recordReader) int24() (int32, error) {
	if err := r.need(3); err != nil {
		return 0, err
	}
	v := Signed3(r.buf, r.pos)
	r.pos += 3
	return v, nil
}

func (r *recordReader) digits(n int) (string, error) {
	if err := r.need(n); err != nil {
		return "", err
	}
	v := DigitString(r.buf, r.pos, n)
	r.pos += n
	return v, nil
}

func (r *recordReader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

// name reads a 1-byte length prefixed identifier.
func (r *recordReader) name() (string, error) {
	n, err := r.uint(1)
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *recordReader) remaining() int {
	return len(r.buf) - r.pos
}
