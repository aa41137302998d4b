package services

// CreditCalculator converts raw token counts into billable credit units.
// Pure and deterministic; floors guarantee a billable event never rounds
// down to zero credits.
type CreditCalculator struct {
	tokensPerCredit  int64
	tokenFloor       int64
	creditFloor      int64
	estimateOverhead int64
}

func NewCreditCalculator(tokensPerCredit, tokenFloor, creditFloor, estimateOverhead int64) *CreditCalculator {
	if tokensPerCredit <= 0 {
		tokensPerCredit = 1000
	}
	if creditFloor <= 0 {
		creditFloor = 1
	}
	return &CreditCalculator{
		tokensPerCredit:  tokensPerCredit,
		tokenFloor:       tokenFloor,
		creditFloor:      creditFloor,
		estimateOverhead: estimateOverhead,
	}
}

// TokensToCredits converts a token count to credits, rounding up. The token
// floor is applied before conversion and the credit floor after, so empty or
// degenerate inputs still bill at least one credit.
func (c *CreditCalculator) TokensToCredits(tokens int64) int64 {
	if tokens < c.tokenFloor {
		tokens = c.tokenFloor
	}

	credits := (tokens + c.tokensPerCredit - 1) / c.tokensPerCredit
	if credits < c.creditFloor {
		credits = c.creditFloor
	}
	return credits
}

// EstimateTokens approximates a token count from raw content length when a
// real count is unavailable, using the ~4 characters per token rule of thumb.
func (c *CreditCalculator) EstimateTokens(contentLength int64) int64 {
	if contentLength < 0 {
		contentLength = 0
	}

	tokens := (contentLength+3)/4 + c.estimateOverhead
	if tokens < c.tokenFloor {
		tokens = c.tokenFloor
	}
	return tokens
}

// CreditsForUsage computes the billable credits for a usage event, falling
// back to content-length estimation when no token counts were reported.
func (c *CreditCalculator) CreditsForUsage(inputTokens, outputTokens, contentLength int64) int64 {
	tokens := inputTokens + outputTokens
	if tokens <= 0 {
		tokens = c.EstimateTokens(contentLength)
	}
	return c.TokensToCredits(tokens)
}
