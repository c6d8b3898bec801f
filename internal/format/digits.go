package format

// Digit is one slot of the rolling price display
type Digit struct {
	Index   int    `json:"index"`
	Char    string `json:"char"`
	IsDigit bool   `json:"is_digit"`
	// Offset is the roll position in percent of the 0-9 strip (digit * 10)
	Offset int `json:"offset"`
}

// DigitRoll describes how to move the price display from one string to the next
type DigitRoll struct {
	// Rebuild is set when the slot count changed and every slot must be recreated
	Rebuild bool    `json:"rebuild"`
	Slots   []Digit `json:"slots"`
}

// RollDigits diffs two formatted prices. When lengths match only changed slots are
// returned; otherwise every slot of next is returned with Rebuild set.
func RollDigits(prev, next string) DigitRoll {
	p, n := []rune(prev), []rune(next)
	if len(p) != len(n) {
		roll := DigitRoll{Rebuild: true, Slots: make([]Digit, 0, len(n))}
		for i, r := range n {
			roll.Slots = append(roll.Slots, slot(i, r))
		}
		return roll
	}

	var roll DigitRoll
	for i := range n {
		if n[i] != p[i] {
			roll.Slots = append(roll.Slots, slot(i, n[i]))
		}
	}
	return roll
}

func slot(i int, r rune) Digit {
	d := Digit{Index: i, Char: string(r)}
	if r >= '0' && r <= '9' {
		d.IsDigit = true
		d.Offset = int(r-'0') * 10
	}
	return d
}
