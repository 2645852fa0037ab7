package geometry

import (
	"math"

	"photoflow-go/internal/core/models"
)

// Fallback-Strategien für Bilder ohne erkannte Subjekte
const (
	FallbackCenter       = "center"
	FallbackSmart        = "smart"
	FallbackRuleOfThirds = "rule-of-thirds"
)

// Policy steuert, wie aggressiv ein Zuschnitt wachsen, schrumpfen oder
// skalieren darf
type Policy struct {
	MinCropSize         int
	MaxUpscaleFactor    float64
	FallbackStrategy    string
	PreventStretching   bool
	PaddingColor        string
	MaintainAspectRatio bool
}

// DefaultPolicy liefert die Standard-Richtlinie
func DefaultPolicy() Policy {
	return Policy{
		MinCropSize:         200,
		MaxUpscaleFactor:    1.0,
		FallbackStrategy:    FallbackSmart,
		PreventStretching:   true,
		PaddingColor:        "#ffffff",
		MaintainAspectRatio: true,
	}
}

// Anteil, um den die Subjekt-Begrenzung vor der Platzierung erweitert wird
const subjectPadding = 0.1

// Feste Qualitätswerte der Fallback-Strategien
const (
	centerQuality       = 0.70
	smartQuality        = 0.75
	ruleOfThirdsQuality = 0.80

	// Konfidenz eines inhaltslosen Fallback-Zuschnitts
	fallbackConfidence = 0.4
)

// PlanCrop berechnet den Zuschnitt-Bereich für ein Bild. Reine Funktion ohne
// Seiteneffekte: gleiche Eingaben liefern immer denselben Vorschlag. Die
// Planung verweigert nie ein Ergebnis; ein niedriger QualityScore signalisiert
// einen unsicheren Zuschnitt.
func PlanCrop(dims models.Dimensions, detections models.DetectionResult, target models.AspectRatio, policy Policy) models.CropSuggestion {
	if dims.Width <= 0 || dims.Height <= 0 {
		// Degenerierte Eingabe: minimaler gültiger Zuschnitt
		return models.CropSuggestion{
			CropArea:     models.CropArea{X: 0, Y: 0, Width: 1, Height: 1, Confidence: 0},
			Strategy:     models.StrategyFallbackCenter,
			QualityScore: 0,
		}
	}

	ratio := target.Ratio()
	if ratio <= 0 {
		ratio = float64(dims.Width) / float64(dims.Height)
	}

	if detections.Empty() {
		return planFallbackCrop(dims, ratio, policy)
	}
	return planPeopleCenteredCrop(dims, detections, ratio, policy)
}

// planPeopleCenteredCrop platziert den Zuschnitt um die erkannten Subjekte
func planPeopleCenteredCrop(dims models.Dimensions, detections models.DetectionResult, ratio float64, policy Policy) models.CropSuggestion {
	all := detections.All()

	// Vereinigte Begrenzungsbox aller Subjekte
	peopleBounds := all[0].Box
	for _, d := range all[1:] {
		peopleBounds = peopleBounds.Union(d.Box)
	}

	// Konfidenz-gewichteter Schwerpunkt der Subjekt-Mittelpunkte
	var sumX, sumY, sumW float64
	for _, d := range all {
		sumX += d.Box.CenterX() * d.Confidence
		sumY += d.Box.CenterY() * d.Confidence
		sumW += d.Confidence
	}
	var centerOfMass [2]float64
	if sumW > 0 {
		centerOfMass = [2]float64{sumX / sumW, sumY / sumW}
	}

	cropW, cropH := idealCropSize(dims, ratio, policy)

	// Begrenzung um 10% je Seite erweitern
	padX := peopleBounds.Width * subjectPadding
	padY := peopleBounds.Height * subjectPadding
	paddedBounds := models.BoundingBox{
		X:      peopleBounds.X - padX,
		Y:      peopleBounds.Y - padY,
		Width:  peopleBounds.Width + 2*padX,
		Height: peopleBounds.Height + 2*padY,
	}

	// Wenn der Zuschnitt die erweiterte Begrenzung nicht fassen kann, auf
	// deren Mittelpunkt statt auf den Schwerpunkt zentrieren
	centerX, centerY := centerOfMass[0], centerOfMass[1]
	if cropW < paddedBounds.Width || cropH < paddedBounds.Height {
		centerX = paddedBounds.CenterX()
		centerY = paddedBounds.CenterY()
	}

	// Zuschnitt zentriert platzieren und ins Bild klemmen
	crop := models.BoundingBox{
		X:      centerX - cropW/2,
		Y:      centerY - cropH/2,
		Width:  cropW,
		Height: cropH,
	}
	crop = clampToImage(crop, dims)

	// Falls die Subjekte immer noch nicht vollständig enthalten sind, den
	// Zuschnitt auf die umschließende Box erweitern. Das kann das
	// Seitenverhältnis leicht verschieben; vollständige Subjekt-Abdeckung hat
	// Vorrang vor exakter Ratio.
	if !crop.Contains(paddedBounds) {
		crop = clampToImage(crop.Union(paddedBounds), dims)
	}

	area := toCropArea(crop, dims, detections.Confidence)

	// Qualitätsbewertung: Erkennungskonfidenz, Zentrierung und Abdeckung
	cropCenterX := float64(area.X) + float64(area.Width)/2
	cropCenterY := float64(area.Y) + float64(area.Height)/2
	maxDistance := math.Hypot(float64(dims.Width), float64(dims.Height))
	distance := math.Hypot(centerOfMass[0]-cropCenterX, centerOfMass[1]-cropCenterY)
	centeringScore := math.Max(0, 1-distance/maxDistance)

	cropArea := float64(area.Width) * float64(area.Height)
	inclusionScore := math.Min(1, peopleBounds.Area()/(cropArea*0.3))

	quality := 0.4*detections.Confidence + 0.3*centeringScore + 0.3*inclusionScore

	return models.CropSuggestion{
		CropArea:     area,
		Strategy:     models.StrategyPeopleCentered,
		QualityScore: clamp01(quality),
	}
}

// planFallbackCrop berechnet den Zuschnitt ohne Erkennungsdaten
func planFallbackCrop(dims models.Dimensions, ratio float64, policy Policy) models.CropSuggestion {
	cropW, cropH := idealCropSize(dims, ratio, policy)

	marginX := float64(dims.Width) - cropW
	marginY := float64(dims.Height) - cropH

	var offsetX, offsetY float64
	var strategy models.CropStrategy
	var quality float64

	switch policy.FallbackStrategy {
	case FallbackCenter:
		offsetX = marginX / 2
		offsetY = marginY / 2
		strategy = models.StrategyFallbackCenter
		quality = centerQuality
	case FallbackRuleOfThirds:
		offsetX = marginX / 3
		offsetY = marginY / 3
		strategy = models.StrategyRuleOfThirds
		quality = ruleOfThirdsQuality
	default:
		// "smart": 20% des freien Randes als billige Saliency-Näherung
		offsetX = marginX * 0.2
		offsetY = marginY * 0.2
		strategy = models.StrategyFallbackSmart
		quality = smartQuality
	}

	crop := clampToImage(models.BoundingBox{
		X:      offsetX,
		Y:      offsetY,
		Width:  cropW,
		Height: cropH,
	}, dims)

	return models.CropSuggestion{
		CropArea:     toCropArea(crop, dims, fallbackConfidence),
		Strategy:     strategy,
		QualityScore: quality,
	}
}

// idealCropSize liefert das größte Rechteck mit dem Ziel-Seitenverhältnis,
// das vollständig ins Quellbild passt
func idealCropSize(dims models.Dimensions, ratio float64, policy Policy) (float64, float64) {
	imgW := float64(dims.Width)
	imgH := float64(dims.Height)

	var cropW, cropH float64
	if imgW/imgH > ratio {
		// Bild ist breiter als das Ziel: Höhe limitiert
		cropH = imgH
		cropW = imgH * ratio
	} else {
		cropW = imgW
		cropH = imgW / ratio
	}

	// Mindestgröße einhalten, ohne das Seitenverhältnis zu verlieren; bei zu
	// kleinen Bildern limitiert weiterhin das Bild selbst
	if policy.MinCropSize > 0 {
		minSize := float64(policy.MinCropSize)
		if cropW < minSize && cropH < minSize {
			scale := math.Min(minSize/cropW, math.Min(imgW/cropW, imgH/cropH))
			cropW *= scale
			cropH *= scale
		}
	}

	return math.Min(cropW, imgW), math.Min(cropH, imgH)
}

// clampToImage verschiebt und beschneidet eine Box so, dass sie vollständig
// innerhalb des Bildes liegt
func clampToImage(box models.BoundingBox, dims models.Dimensions) models.BoundingBox {
	imgW := float64(dims.Width)
	imgH := float64(dims.Height)

	if box.Width > imgW {
		box.Width = imgW
	}
	if box.Height > imgH {
		box.Height = imgH
	}
	if box.X < 0 {
		box.X = 0
	}
	if box.Y < 0 {
		box.Y = 0
	}
	if box.X+box.Width > imgW {
		box.X = imgW - box.Width
	}
	if box.Y+box.Height > imgH {
		box.Y = imgH - box.Height
	}
	return box
}

// toCropArea rundet eine Box auf ganze Pixel und stellt die Invarianten des
// CropArea-Typs sicher
func toCropArea(box models.BoundingBox, dims models.Dimensions, confidence float64) models.CropArea {
	x := int(math.Round(box.X))
	y := int(math.Round(box.Y))
	w := int(math.Round(box.Width))
	h := int(math.Round(box.Height))

	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+w > dims.Width {
		x = dims.Width - w
		if x < 0 {
			x = 0
			w = dims.Width
		}
	}
	if y+h > dims.Height {
		y = dims.Height - h
		if y < 0 {
			y = 0
			h = dims.Height
		}
	}

	return models.CropArea{X: x, Y: y, Width: w, Height: h, Confidence: confidence}
}

// FitInside berechnet die Ausgabemaße, die das Ziel-Seitenverhältnis bestmöglich
// annähern, ohne die Quellmaße in einer Dimension zu überschreiten
// (fit-inside, nie fit-outside). Ein Upscale über die Quelle hinaus ist nur bis
// zum konfigurierten Faktor erlaubt.
func FitInside(crop models.Dimensions, ratio float64, policy Policy) models.Dimensions {
	if crop.Width <= 0 || crop.Height <= 0 || ratio <= 0 {
		return crop
	}

	srcW := float64(crop.Width)
	srcH := float64(crop.Height)

	var outW, outH float64
	if srcW/srcH > ratio {
		outH = srcH
		outW = srcH * ratio
	} else {
		outW = srcW
		outH = srcW / ratio
	}

	// Optionaler Upscale innerhalb der Richtlinie
	if !policy.PreventStretching && policy.MaxUpscaleFactor > 1 {
		outW *= policy.MaxUpscaleFactor
		outH *= policy.MaxUpscaleFactor
	}

	w := int(math.Floor(outW))
	h := int(math.Floor(outH))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return models.Dimensions{Width: w, Height: h}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
