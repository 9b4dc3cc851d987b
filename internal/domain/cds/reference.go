package cds

import "sort"

// Reference tables keyed by RxNorm ingredient code (drugs) and LOINC code
// (lab panels). They are illustrative, not a terminology service.

type Interaction struct {
	DrugA       string
	DrugB       string
	Severity    Severity
	Description string
}

type DoseLimit struct {
	Value float64
	Unit  string
}

type LabTest struct {
	Code    string `json:"code"`
	Display string `json:"display"`
}

type LabPanel struct {
	Code    string
	Display string
	Tests   []LabTest
}

const (
	rxWarfarin        = "11289"
	rxAspirin         = "1191"
	rxIbuprofen       = "5640"
	rxNaproxen        = "7258"
	rxKetorolac       = "35827"
	rxCelecoxib       = "140587"
	rxClopidogrel     = "32968"
	rxHeparin         = "5224"
	rxSimvastatin     = "36567"
	rxAtorvastatin    = "83367"
	rxClarithromycin  = "21212"
	rxLisinopril      = "29046"
	rxEnalapril       = "3827"
	rxSpironolactone  = "9997"
	rxPotassiumCl     = "8591"
	rxSildenafil      = "136411"
	rxNitroglycerin   = "4917"
	rxSertraline      = "36437"
	rxFluoxetine      = "4493"
	rxTramadol        = "10689"
	rxMethotrexate    = "6851"
	rxSMXTMP          = "10831"
	rxSulfasalazine   = "9524"
	rxAmoxicillin     = "723"
	rxAmpicillin      = "733"
	rxPenicillinG     = "7980"
	rxCephalexin      = "2231"
	rxCeftriaxone     = "2193"
	rxCefazolin       = "2180"
	rxAcetaminophen   = "161"
	rxDigoxin         = "3407"
	rxAmiodarone      = "703"
	rxOmeprazole      = "7646"
	rxMetformin       = "6809"
	rxInsulinGlargine = "274783"
)

var drugNames = map[string]string{
	rxWarfarin:        "warfarin",
	rxAspirin:         "aspirin",
	rxIbuprofen:       "ibuprofen",
	rxNaproxen:        "naproxen",
	rxKetorolac:       "ketorolac",
	rxCelecoxib:       "celecoxib",
	rxClopidogrel:     "clopidogrel",
	rxHeparin:         "heparin",
	rxSimvastatin:     "simvastatin",
	rxAtorvastatin:    "atorvastatin",
	rxClarithromycin:  "clarithromycin",
	rxLisinopril:      "lisinopril",
	rxEnalapril:       "enalapril",
	rxSpironolactone:  "spironolactone",
	rxPotassiumCl:     "potassium chloride",
	rxSildenafil:      "sildenafil",
	rxNitroglycerin:   "nitroglycerin",
	rxSertraline:      "sertraline",
	rxFluoxetine:      "fluoxetine",
	rxTramadol:        "tramadol",
	rxMethotrexate:    "methotrexate",
	rxSMXTMP:          "sulfamethoxazole/trimethoprim",
	rxSulfasalazine:   "sulfasalazine",
	rxAmoxicillin:     "amoxicillin",
	rxAmpicillin:      "ampicillin",
	rxPenicillinG:     "penicillin G",
	rxCephalexin:      "cephalexin",
	rxCeftriaxone:     "ceftriaxone",
	rxCefazolin:       "cefazolin",
	rxAcetaminophen:   "acetaminophen",
	rxDigoxin:         "digoxin",
	rxAmiodarone:      "amiodarone",
	rxOmeprazole:      "omeprazole",
	rxMetformin:       "metformin",
	rxInsulinGlargine: "insulin glargine",
}

// interactions is unordered: (A, B) also matches (B, A).
var interactions = []Interaction{
	{rxWarfarin, rxAspirin, SeverityCritical, "Concurrent anticoagulant and antiplatelet therapy markedly increases bleeding risk."},
	{rxWarfarin, rxIbuprofen, SeverityCritical, "NSAIDs increase the risk of serious bleeding with warfarin."},
	{rxWarfarin, rxNaproxen, SeverityCritical, "NSAIDs increase the risk of serious bleeding with warfarin."},
	{rxWarfarin, rxSMXTMP, SeverityCritical, "Sulfamethoxazole inhibits warfarin metabolism; INR may rise sharply."},
	{rxWarfarin, rxAmiodarone, SeverityWarning, "Amiodarone potentiates warfarin; reduce dose and monitor INR."},
	{rxSimvastatin, rxClarithromycin, SeverityCritical, "Strong CYP3A4 inhibition raises simvastatin levels; risk of rhabdomyolysis."},
	{rxSildenafil, rxNitroglycerin, SeverityCritical, "Combined vasodilation can cause profound hypotension."},
	{rxMethotrexate, rxSMXTMP, SeverityCritical, "Additive antifolate effect; risk of bone marrow suppression."},
	{rxLisinopril, rxSpironolactone, SeverityWarning, "ACE inhibitor with potassium-sparing diuretic may cause hyperkalemia."},
	{rxLisinopril, rxPotassiumCl, SeverityWarning, "ACE inhibitor with potassium supplement may cause hyperkalemia."},
	{rxSertraline, rxTramadol, SeverityWarning, "Serotonergic combination; monitor for serotonin syndrome."},
	{rxFluoxetine, rxTramadol, SeverityWarning, "Serotonergic combination; monitor for serotonin syndrome and seizures."},
	{rxDigoxin, rxAmiodarone, SeverityWarning, "Amiodarone increases digoxin concentration; consider dose reduction."},
	{rxClopidogrel, rxOmeprazole, SeverityWarning, "Omeprazole reduces activation of clopidogrel."},
	{rxAspirin, rxIbuprofen, SeverityInfo, "Ibuprofen may blunt the antiplatelet effect of low-dose aspirin."},
}

// drugClasses groups therapeutically related drugs for duplicate therapy.
var drugClasses = map[string][]string{
	"nsaid":         {rxAspirin, rxIbuprofen, rxNaproxen, rxKetorolac, rxCelecoxib},
	"anticoagulant": {rxWarfarin, rxHeparin},
	"antiplatelet":  {rxAspirin, rxClopidogrel},
	"statin":        {rxSimvastatin, rxAtorvastatin},
	"ace_inhibitor": {rxLisinopril, rxEnalapril},
	"ssri":          {rxSertraline, rxFluoxetine},
	"penicillin":    {rxAmoxicillin, rxAmpicillin, rxPenicillinG},
	"cephalosporin": {rxCephalexin, rxCeftriaxone, rxCefazolin},
}

const (
	allergyClassPenicillin    = "penicillin"
	allergyClassCephalosporin = "cephalosporin"
)

// allergyClasses groups drugs that share an allergic determinant.
var allergyClasses = map[string][]string{
	"nsaid":                   {rxAspirin, rxIbuprofen, rxNaproxen, rxKetorolac, rxCelecoxib},
	allergyClassPenicillin:    {rxAmoxicillin, rxAmpicillin, rxPenicillinG},
	"sulfonamide":             {rxSMXTMP, rxSulfasalazine},
	allergyClassCephalosporin: {rxCephalexin, rxCeftriaxone, rxCefazolin},
}

var maxSingleDose = map[string]DoseLimit{
	rxAcetaminophen:   {4000, "mg"},
	rxIbuprofen:       {800, "mg"},
	rxNaproxen:        {500, "mg"},
	rxKetorolac:       {30, "mg"},
	rxWarfarin:        {10, "mg"},
	rxMethotrexate:    {25, "mg"},
	rxDigoxin:         {0.5, "mg"},
	rxLisinopril:      {80, "mg"},
	rxSimvastatin:     {80, "mg"},
	rxMetformin:       {1000, "mg"},
	rxHeparin:         {10000, "unit"},
	rxInsulinGlargine: {100, "unit"},
}

var labPanels = map[string]LabPanel{
	"51990-0": {Code: "51990-0", Display: "Basic metabolic panel", Tests: []LabTest{
		{"2345-7", "Glucose"},
		{"3094-0", "Urea nitrogen"},
		{"2160-0", "Creatinine"},
		{"2951-2", "Sodium"},
		{"2823-3", "Potassium"},
		{"2075-0", "Chloride"},
		{"2028-9", "Carbon dioxide"},
		{"17861-6", "Calcium"},
	}},
	"58410-2": {Code: "58410-2", Display: "Complete blood count", Tests: []LabTest{
		{"6690-2", "Leukocytes"},
		{"789-8", "Erythrocytes"},
		{"718-7", "Hemoglobin"},
		{"4544-3", "Hematocrit"},
		{"777-3", "Platelets"},
	}},
	"57698-3": {Code: "57698-3", Display: "Lipid panel", Tests: []LabTest{
		{"2093-3", "Cholesterol"},
		{"2571-8", "Triglyceride"},
		{"2085-9", "HDL cholesterol"},
		{"13457-7", "LDL cholesterol (calculated)"},
	}},
	"24325-3": {Code: "24325-3", Display: "Hepatic function panel", Tests: []LabTest{
		{"1742-6", "Alanine aminotransferase"},
		{"1920-8", "Aspartate aminotransferase"},
		{"6768-6", "Alkaline phosphatase"},
		{"1975-2", "Bilirubin, total"},
		{"1751-7", "Albumin"},
	}},
}

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{x, y}
}

var (
	interactionIndex  = indexInteractions(interactions)
	drugClassIndex    = indexClasses(drugClasses)
	allergyClassIndex = indexClasses(allergyClasses)
)

func indexInteractions(list []Interaction) map[pairKey]Interaction {
	idx := make(map[pairKey]Interaction, len(list))
	for _, in := range list {
		idx[newPairKey(in.DrugA, in.DrugB)] = in
	}
	return idx
}

// indexClasses inverts class -> members into code -> sorted classes.
func indexClasses(classes map[string][]string) map[string][]string {
	idx := make(map[string][]string)
	for class, members := range classes {
		for _, code := range members {
			idx[code] = append(idx[code], class)
		}
	}
	for code := range idx {
		sort.Strings(idx[code])
	}
	return idx
}

// LookupInteraction finds the interaction between two drugs in either order.
func LookupInteraction(a, b string) (Interaction, bool) {
	in, ok := interactionIndex[newPairKey(a, b)]
	return in, ok
}

// Interactions returns a copy of the interaction table.
func Interactions() []Interaction {
	return append([]Interaction(nil), interactions...)
}

func DrugClasses(code string) []string { return drugClassIndex[code] }

func AllergyClasses(code string) []string { return allergyClassIndex[code] }

func MaxSingleDose(code string) (DoseLimit, bool) {
	l, ok := maxSingleDose[code]
	return l, ok
}

// ExpandPanel returns the constituent tests of a lab panel.
func ExpandPanel(code string) (LabPanel, bool) {
	p, ok := labPanels[code]
	if !ok {
		return LabPanel{}, false
	}
	p.Tests = append([]LabTest(nil), p.Tests...)
	return p, true
}

// DrugName returns a readable name for code, falling back to the code.
func DrugName(code string) string {
	if n, ok := drugNames[code]; ok {
		return n
	}
	return code
}

func sharedClasses(a, b []string) []string {
	var out []string
	for _, x := range a {
		for _, y := range b {
			if x == y {
				out = append(out, x)
			}
		}
	}
	return out
}

func hasClass(classes []string, class string) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}
