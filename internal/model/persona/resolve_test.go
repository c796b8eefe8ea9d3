package persona

import (
	"errors"
	"testing"
)

func TestResolveCanonicalLabelsAreIdentity(t *testing.T) {
	for _, id := range All() {
		got, ok := Resolve(string(id))
		if !ok {
			t.Fatalf("canonical label %q did not resolve", id)
		}
		if got != id {
			t.Fatalf("Resolve(%q) = %q", id, got)
		}
	}
}

func TestResolveAliases(t *testing.T) {
	for alias, want := range aliases {
		got, ok := Resolve(alias)
		if !ok || got != want {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", alias, got, ok, want)
		}
		if again, _ := Resolve(string(got)); again != want {
			t.Fatalf("canonical %q re-resolved to %q", want, again)
		}
	}
}

func TestResolveNormalizesPunctuation(t *testing.T) {
	cases := map[string]ID{
		"①ミノンBC理想ファン_乳児ママ_本田ゆい(30)":        IdealInfantMom,
		"  ④ミノンＢＣ理想ファン_更年期女性_高橋恵子（48） ":   IdealMenopause,
		"③ミノンBC理想ファン_保育園／幼稚園ママ_戸田綾香（35）":   IdealPreschoolMom,
		"⑦ミノンBC未満ファン_保育園／幼稚園ママ_石田真帆(34)":   CasualPreschoolMom,
		"⑥ミノンBC未満ファン_乳児パパ_岡田　健志（32）":        CasualInfantDad,
	}
	for label, want := range cases {
		got, ok := Resolve(label)
		if !ok || got != want {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", label, got, ok, want)
		}
	}
}

func TestResolveUnknown(t *testing.T) {
	for _, label := range []string{"", "socrates", "⑨ミノンBC未満ファン_乳児ママ_誰か（20）", "本田"} {
		if got, ok := Resolve(label); ok {
			t.Fatalf("Resolve(%q) = %q, expected unknown", label, got)
		}
	}
}

func TestCatalogValidate(t *testing.T) {
	creds := make(map[ID]string)
	for _, id := range All() {
		creds[id] = "app-" + string(id)
	}

	if err := NewCatalog(Seed(), creds).Validate(); err != nil {
		t.Fatalf("Validate err: %v", err)
	}

	creds[CasualMenopause] = "sk-wrong-prefix"
	err := NewCatalog(Seed(), creds).Validate()
	if !errors.Is(err, ErrIncompleteCatalog) {
		t.Fatalf("expected ErrIncompleteCatalog, got %v", err)
	}

	delete(creds, CasualMenopause)
	if err := NewCatalog(Seed(), creds).Validate(); !errors.Is(err, ErrIncompleteCatalog) {
		t.Fatalf("expected ErrIncompleteCatalog for missing credential, got %v", err)
	}
}

func TestCatalogResolve(t *testing.T) {
	catalog := NewCatalog(Seed(), nil)

	p, err := catalog.Resolve("石田真帆")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if p.ID != CasualPreschoolMom || p.Avatar != "persona_7.png" {
		t.Fatalf("unexpected persona: %+v", p)
	}

	if _, err := catalog.Resolve("nobody"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}
