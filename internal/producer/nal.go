package producer

// DetectNALType scans an H.264 Annex B access unit for start codes and
// returns the type of the first VCL NAL found (type&0x1F in [1,5]),
// falling back to the first NAL's type, or 0 if no NAL is found.
func DetectNALType(data []byte) uint8 {
	first := uint8(0)
	haveFirst := false

	i := 0
	for i < len(data) {
		start, codeLen := findStartCode(data, i)
		if start < 0 {
			break
		}
		nalStart := start + codeLen
		if nalStart >= len(data) {
			break
		}
		nalType := data[nalStart] & 0x1F
		if !haveFirst {
			first = nalType
			haveFirst = true
		}
		if nalType >= 1 && nalType <= 5 {
			return nalType
		}
		i = nalStart + 1
	}

	if haveFirst {
		return first
	}
	return 0
}

// findStartCode returns the index of the next 3- or 4-byte start code
// at or after from, and the code's length (3 or 4).
func findStartCode(data []byte, from int) (int, int) {
	for i := from; i+3 <= len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if i > from && data[i-1] == 0 {
				return i - 1, 4
			}
			return i, 3
		}
	}
	return -1, 0
}
