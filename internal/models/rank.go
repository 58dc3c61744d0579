package models

import (
	"fmt"
	"strings"
)

// Rank is the ordered member rank ladder, lowest first.
type Rank int

const (
	RankStar Rank = iota + 1
	RankSilver
	RankGold
	RankPlatinum
	RankRuby
	RankEmerald
	RankDiamond
	RankBlueDiamond
	RankBlackDiamond
	RankCrownDiamond
)

var rankNames = map[Rank]string{
	RankStar:         "STAR",
	RankSilver:       "SILVER",
	RankGold:         "GOLD",
	RankPlatinum:     "PLATINUM",
	RankRuby:         "RUBY",
	RankEmerald:      "EMERALD",
	RankDiamond:      "DIAMOND",
	RankBlueDiamond:  "BLUE_DIAMOND",
	RankBlackDiamond: "BLACK_DIAMOND",
	RankCrownDiamond: "CROWN_DIAMOND",
}

// LowestRank is assigned at registration
const LowestRank = RankStar

// AllRanks returns every rank in ascending order
func AllRanks() []Rank {
	ranks := make([]Rank, 0, len(rankNames))
	for r := RankStar; r <= RankCrownDiamond; r++ {
		ranks = append(ranks, r)
	}
	return ranks
}

// Valid reports whether r is a known rank
func (r Rank) Valid() bool {
	_, ok := rankNames[r]
	return ok
}

func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RANK(%d)", int(r))
}

// MarshalText encodes the rank by name
func (r Rank) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid rank %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rank name
func (r *Rank) UnmarshalText(text []byte) error {
	parsed, err := ParseRank(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRank parses a rank name such as "CROWN_DIAMOND" or "Crown Diamond"
func ParseRank(s string) (Rank, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	for rank, name := range rankNames {
		if name == normalized {
			return rank, nil
		}
	}
	return 0, fmt.Errorf("unknown rank %q", s)
}
