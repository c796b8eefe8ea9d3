package persona

// ID is the canonical label of a persona. The chat log stores it verbatim in
// the bot_type column, and assistant turns use it as their display name.
type ID string

const (
	IdealInfantMom     ID = "①ミノンBC理想ファン_乳児ママ_本田ゆい（30）"
	IdealInfantDad     ID = "②ミノンBC理想ファン_乳児パパ_安西涼太（31）"
	IdealPreschoolMom  ID = "③ミノンBC理想ファン_保育園/幼稚園ママ_戸田綾香（35）"
	IdealMenopause     ID = "④ミノンBC理想ファン_更年期女性_高橋恵子（48）"
	CasualInfantMom    ID = "⑤ミノンBC未満ファン_乳児ママ_中村優奈（31）"
	CasualInfantDad    ID = "⑥ミノンBC未満ファン_乳児パパ_岡田健志（32）"
	CasualPreschoolMom ID = "⑦ミノンBC未満ファン_保育園・幼稚園ママ_石田真帆（34）"
	CasualMenopause    ID = "⑧ミノンBC未満ファン_更年期女性_杉山紀子（51）"
)

// All returns the closed persona set in display order.
func All() []ID {
	return []ID{
		IdealInfantMom,
		IdealInfantDad,
		IdealPreschoolMom,
		IdealMenopause,
		CasualInfantMom,
		CasualInfantDad,
		CasualPreschoolMom,
		CasualMenopause,
	}
}

// Persona captures the attributes exposed to the frontend.
type Persona struct {
	ID     ID     `json:"id"`
	Label  string `json:"label"`
	Avatar string `json:"avatar"`
}

// Seed provides the fixed persona catalog with its avatar assets.
func Seed() []Persona {
	return []Persona{
		{ID: IdealInfantMom, Label: string(IdealInfantMom), Avatar: "persona_1.jpg"},
		{ID: IdealInfantDad, Label: string(IdealInfantDad), Avatar: "persona_2.jpg"},
		{ID: IdealPreschoolMom, Label: string(IdealPreschoolMom), Avatar: "persona_3.jpg"},
		{ID: IdealMenopause, Label: string(IdealMenopause), Avatar: "persona_4.jpg"},
		{ID: CasualInfantMom, Label: string(CasualInfantMom), Avatar: "persona_5.jpg"},
		{ID: CasualInfantDad, Label: string(CasualInfantDad), Avatar: "persona_6.jpg"},
		{ID: CasualPreschoolMom, Label: string(CasualPreschoolMom), Avatar: "persona_7.png"},
		{ID: CasualMenopause, Label: string(CasualMenopause), Avatar: "persona_8.jpg"},
	}
}
