package ai

import "time"

// Per-1k-token USD rates and per-image token estimates by provider.
type rateEntry struct {
	InputPer1K     float64
	OutputPer1K    float64
	TokensPerImage int
}

var rateTable = map[string]rateEntry{
	ProviderOpenAI: {InputPer1K: 0.00015, OutputPer1K: 0.0006, TokensPerImage: 100},
	ProviderGrok:   {InputPer1K: 0.0002, OutputPer1K: 0.001, TokensPerImage: 100},
	ProviderClaude: {InputPer1K: 0.0008, OutputPer1K: 0.004, TokensPerImage: 120},
	ProviderGemini: {InputPer1K: 0.0001, OutputPer1K: 0.0004, TokensPerImage: 100},
}

const (
	estimatedPromptTokens   = 200
	estimatedResponseTokens = 100
	defaultTokensPerImage   = 100
)

// ComputeCost prices a call from exact token counts.
func ComputeCost(provider string, tokensIn, tokensOut int) float64 {
	r, ok := rateTable[provider]
	if !ok {
		r = rateTable[ProviderOpenAI]
	}
	return float64(tokensIn)/1000*r.InputPer1K + float64(tokensOut)/1000*r.OutputPer1K
}

// EstimateTokens approximates token usage when the provider omits usage data.
func EstimateTokens(provider string, imageCount int) (tokensIn, tokensOut int) {
	perImage := defaultTokensPerImage
	if r, ok := rateTable[provider]; ok && r.TokensPerImage > 0 {
		perImage = r.TokensPerImage
	}
	return estimatedPromptTokens + imageCount*perImage, estimatedResponseTokens
}

// buildResult assembles the shared Result from a raw model reply plus usage.
// When tokensIn/tokensOut are both zero the estimation path is used and the
// result is marked estimated.
func buildResult(provider, raw string, tokensIn, tokensOut, imageCount int, start time.Time) *Result {
	estimated := false
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn, tokensOut = EstimateTokens(provider, imageCount)
		estimated = true
	}
	p := ParseResponse(raw)
	return &Result{
		Description:            p.Description,
		SelfReportedConfidence: p.Confidence,
		TokensIn:               tokensIn,
		TokensOut:              tokensOut,
		TokensEstimated:        estimated,
		ResponseTimeMS:         time.Since(start).Milliseconds(),
		Provider:               provider,
		CostUSD:                ComputeCost(provider, tokensIn, tokensOut),
		Success:                p.Description != "",
	}
}
