package anthropic

// BuildCachedSystemBlocks constructs a system block with an ephemeral cache
// breakpoint. Chunk extraction sends the same instructions for every chunk
// of a document, so only the first call in a fan-out pays full input price.
func BuildCachedSystemBlocks(text string, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
