package persona

import (
	"errors"
	"strings"
)

// ErrUnresolved reports a label that matches no canonical persona.
var ErrUnresolved = errors.New("persona label not recognised")

// aliases maps historical spellings onto canonical labels. Keys are compared
// both as given and after normalisation.
var aliases = map[string]ID{
	// ③ and ⑦ were logged with each other's separator in early transcripts.
	"③ミノンBC理想ファン_保育園・幼稚園ママ_戸田綾香（35）": IdealPreschoolMom,
	"⑦ミノンBC未満ファン_保育園/幼稚園ママ_石田真帆（34）":  CasualPreschoolMom,

	"本田ゆい": IdealInfantMom,
	"安西涼太": IdealInfantDad,
	"戸田綾香": IdealPreschoolMom,
	"高橋恵子": IdealMenopause,
	"中村優奈": CasualInfantMom,
	"岡田健志": CasualInfantDad,
	"石田真帆": CasualPreschoolMom,
	"杉山紀子": CasualMenopause,
}

var normalizer = strings.NewReplacer(
	"(", "（",
	")", "）",
	"／", "/",
	"ＢＣ", "BC",
	"　", "",
)

var canonical = func() map[ID]struct{} {
	set := make(map[ID]struct{}, len(All()))
	for _, id := range All() {
		set[id] = struct{}{}
	}
	return set
}()

// Normalize applies the fixed punctuation substitutions used by Resolve.
func Normalize(label string) string {
	return normalizer.Replace(strings.TrimSpace(label))
}

// Resolve maps a possibly inexact label onto a canonical persona. It never
// guesses: anything outside the canonical set and alias table is unknown.
func Resolve(label string) (ID, bool) {
	if id, ok := lookup(label); ok {
		return id, true
	}
	return lookup(Normalize(label))
}

func lookup(label string) (ID, bool) {
	if _, ok := canonical[ID(label)]; ok {
		return ID(label), true
	}
	if id, ok := aliases[label]; ok {
		return id, true
	}
	return "", false
}
