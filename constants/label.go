package constants

import "strings"

// Detection classes the model is trained on.
const (
	LabelSignature = "signature"
	LabelStamp     = "stamp"
	LabelQR        = "qr"
)

// ArtifactKind names one generated file of a page.
type ArtifactKind string

const (
	ArtifactSource    ArtifactKind = "source"
	ArtifactAnnotated ArtifactKind = "annotated"
	ArtifactHeatmap   ArtifactKind = "heatmap"
)

var labelSynonyms = map[string]string{
	"sign":       LabelSignature,
	"signatures": LabelSignature,
	"autograph":  LabelSignature,
	"seal":       LabelStamp,
	"stamps":     LabelStamp,
	"qrcode":     LabelQR,
	"qr_code":    LabelQR,
	"qr-code":    LabelQR,
}

// CanonicalLabel lowercases a model label and folds known synonyms.
// Unknown labels are returned lowercased, never dropped.
func CanonicalLabel(raw string) string {
	l := strings.ToLower(strings.TrimSpace(raw))
	if c, ok := labelSynonyms[l]; ok {
		return c
	}
	return l
}
