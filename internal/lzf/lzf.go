// Package lzf implements the small LZ77-family block compressor used by
// the record codec's RAW_LZF record type. There is no corpus dependency
// that speaks this wire format, so it is implemented directly against
// the block contract: a 4 KiB input chunk compresses to a self-contained
// byte stream that decompresses back to exactly the original bytes, with
// no framing of its own -- the record codec supplies the declared
// decompressed size and the compressed length out of band.
package lzf

import "fmt"

const (
	hashLog   = 13
	hashSize  = 1 << hashLog
	maxOffset = 1 << 13 // 8192, encoded in 13 bits split 5/8 across two bytes
	maxLit    = 32      // literal run length fits in a 5-bit field (len-1)
	minMatch  = 3
	maxMatch  = 264 // 2 + 7 (short field) + 255 (extra byte)
)

func hash3(b []byte, i int) uint32 {
	v := uint32(b[i])<<16 | uint32(b[i+1])<<8 | uint32(b[i+2])
	return ((v >> (24 - hashLog)) ^ v) & (hashSize - 1)
}

// Compress returns the LZF-encoded form of in. The result is never
// larger than len(in) + len(in)/32 + 1.
func Compress(in []byte) []byte {
	n := len(in)
	out := make([]byte, 0, n+n/maxLit+1)
	if n == 0 {
		return out
	}

	htab := make([]int32, hashSize)
	for i := range htab {
		htab[i] = -1
	}

	litStart := 0
	ip := 0

	flushLiterals := func(end int) {
		for litStart < end {
			run := end - litStart
			if run > maxLit {
				run = maxLit
			}
			out = append(out, byte(run-1))
			out = append(out, in[litStart:litStart+run]...)
			litStart += run
		}
	}

	for ip+minMatch <= n {
		var ref int32 = -1
		if ip+3 <= n {
			h := hash3(in, ip)
			ref = htab[h]
			htab[h] = int32(ip)
		}

		if ref >= 0 {
			off := ip - int(ref) - 1
			r := int(ref)
			if off < maxOffset && in[r] == in[ip] && in[r+1] == in[ip+1] && in[r+2] == in[ip+2] {
				maxLen := n - ip
				if maxLen > maxMatch {
					maxLen = maxMatch
				}
				matchLen := minMatch
				for matchLen < maxLen && in[r+matchLen] == in[ip+matchLen] {
					matchLen++
				}

				flushLiterals(ip)

				l := matchLen - 2
				if l < 7 {
					out = append(out, byte(l<<5|off>>8))
				} else {
					out = append(out, byte(7<<5|off>>8))
					out = append(out, byte(l-7))
				}
				out = append(out, byte(off&0xff))

				// Seed the hash table across the matched region so later
				// matches can reference inside it.
				end := ip + matchLen
				for ip++; ip < end && ip+3 <= n; ip++ {
					htab[hash3(in, ip)] = int32(ip)
				}
				ip = end
				litStart = ip
				continue
			}
		}
		ip++
	}

	flushLiterals(n)
	return out
}

// Decompress expands src, which must have been produced by Compress (or
// a compatible encoder), writing exactly decompressedLen bytes. It
// returns an error if the stream is malformed or the output length
// doesn't match decompressedLen exactly -- both are treated as stream
// integrity failures by the caller.
func Decompress(src []byte, decompressedLen int) ([]byte, error) {
	out := make([]byte, 0, decompressedLen)
	ip := 0
	n := len(src)

	for ip < n {
		ctrl := int(src[ip])
		ip++

		if ctrl < 32 {
			run := ctrl + 1
			if ip+run > n {
				return nil, fmt.Errorf("lzf: literal run truncated at %d", ip)
			}
			out = append(out, src[ip:ip+run]...)
			ip += run
			continue
		}

		length := ctrl >> 5
		if length == 7 {
			if ip >= n {
				return nil, fmt.Errorf("lzf: missing extra length byte at %d", ip)
			}
			length += int(src[ip])
			ip++
		}
		length += 2

		if ip >= n {
			return nil, fmt.Errorf("lzf: missing offset byte at %d", ip)
		}
		offset := (ctrl&0x1f)<<8 | int(src[ip])
		ip++
		offset++

		refPos := len(out) - offset
		if refPos < 0 {
			return nil, fmt.Errorf("lzf: back-reference offset %d exceeds output length %d", offset, len(out))
		}
		for i := 0; i < length; i++ {
			out = append(out, out[refPos+i])
		}
	}

	if len(out) != decompressedLen {
		return nil, fmt.Errorf("lzf: decompressed %d bytes, want %d", len(out), decompressedLen)
	}
	return out, nil
}
