package entities

import (
	"strings"
)

// VehicleAttributes is what the attribute extractor pulls out of an AI
// description. Signature is set only when the combination is strong enough to
// identify a vehicle on its own.
type VehicleAttributes struct {
	Color     string
	Make      string
	Model     string
	Signature string
}

var vehicleColors = map[string]bool{
	"white": true, "black": true, "silver": true, "gray": true, "grey": true,
	"red": true, "blue": true, "green": true, "brown": true, "beige": true,
	"yellow": true, "orange": true, "gold": true, "tan": true, "maroon": true,
}

// makeSynonyms maps informal names to the canonical make.
var makeSynonyms = map[string]string{
	"chevy":      "chevrolet",
	"vw":         "volkswagen",
	"mercedes":   "mercedes-benz",
	"benz":       "mercedes-benz",
	"land rover": "land-rover",
}

var vehicleMakes = []string{
	"toyota", "honda", "ford", "chevrolet", "nissan", "jeep", "ram",
	"gmc", "subaru", "hyundai", "kia", "volkswagen", "bmw", "mercedes-benz",
	"audi", "lexus", "mazda", "tesla", "dodge", "chrysler", "buick",
	"cadillac", "volvo", "acura", "infiniti", "lincoln", "mitsubishi",
	"porsche", "rivian", "mini",
}

var vehicleModels = map[string]bool{
	"camry": true, "corolla": true, "rav4": true, "highlander": true,
	"tacoma": true, "tundra": true, "prius": true, "sienna": true,
	"civic": true, "accord": true, "cr-v": true, "crv": true, "pilot": true,
	"odyssey": true, "f-150": true, "f150": true, "escape": true,
	"explorer": true, "mustang": true, "ranger": true, "transit": true,
	"silverado": true, "tahoe": true, "suburban": true, "equinox": true,
	"malibu": true, "altima": true, "sentra": true, "rogue": true,
	"pathfinder": true, "wrangler": true, "cherokee": true, "gladiator": true,
	"outback": true, "forester": true, "crosstrek": true, "impreza": true,
	"elantra": true, "sonata": true, "tucson": true, "santa-fe": true,
	"sorento": true, "sportage": true, "telluride": true, "jetta": true,
	"passat": true, "tiguan": true, "atlas": true, "model-3": true,
	"model-y": true, "model-s": true, "model-x": true, "cybertruck": true,
}

// skipWords are tokens that can follow a make without being a model name.
var skipWords = map[string]bool{
	"car": true, "truck": true, "suv": true, "van": true, "sedan": true,
	"pickup": true, "vehicle": true, "is": true, "was": true, "with": true,
	"and": true, "parked": true, "pulls": true, "pulling": true,
	"drives": true, "driving": true, "leaves": true, "leaving": true,
	"arrives": true, "arriving": true, "stops": true, "stopped": true,
	"in": true, "at": true, "on": true, "the": true, "a": true, "an": true,
}

// ExtractVehicleAttributes pulls color, make, and model from a description.
// Signature is built when (color and make) or (make and model) are present.
func ExtractVehicleAttributes(description string) VehicleAttributes {
	var attrs VehicleAttributes
	tokens := tokenize(description)

	for _, tok := range tokens {
		if vehicleColors[tok] {
			attrs.Color = canonicalColor(tok)
			break
		}
	}

	makeIdx := -1
	for i, tok := range tokens {
		name := tok
		if canon, ok := makeSynonyms[tok]; ok {
			name = canon
		}
		if containsMake(name) {
			attrs.Make = name
			makeIdx = i
			break
		}
	}

	if makeIdx >= 0 {
		for i := makeIdx + 1; i < len(tokens); i++ {
			tok := tokens[i]
			if vehicleModels[tok] {
				attrs.Model = tok
				break
			}
			if !skipWords[tok] {
				attrs.Model = tok
				break
			}
		}
	}

	if (attrs.Color != "" && attrs.Make != "") || (attrs.Make != "" && attrs.Model != "") {
		parts := make([]string, 0, 3)
		for _, p := range []string{attrs.Color, attrs.Make, attrs.Model} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		attrs.Signature = strings.Join(parts, "-")
	}
	return attrs
}

// canonicalColor folds spelling variants.
func canonicalColor(c string) string {
	if c == "grey" {
		return "gray"
	}
	return c
}

func containsMake(tok string) bool {
	for _, m := range vehicleMakes {
		if tok == m {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"()")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
