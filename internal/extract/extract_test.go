package extract

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-ingest/internal/analyze"
	"github.com/sells-group/catalog-ingest/internal/cache"
	"github.com/sells-group/catalog-ingest/internal/completion"
	"github.com/sells-group/catalog-ingest/internal/cost"
	"github.com/sells-group/catalog-ingest/internal/model"
	"github.com/sells-group/catalog-ingest/internal/parse"
	"github.com/sells-group/catalog-ingest/internal/resilience"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*completion.Response), args.Error(1)
}

func (m *mockCompleter) Provider() string { return "anthropic" }

func testCaller(m *mockCompleter) *completion.Caller {
	return completion.NewCaller(m, completion.CallerConfig{
		Timeout: time.Second,
		Retry:   resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 100, ResetTimeout: time.Second},
	}, nil)
}

func itemsResponse(names ...string) *completion.Response {
	var items []map[string]any
	for _, n := range names {
		items = append(items, map[string]any{"name": n, "vendor": "Acme", "budget": "$10,000"})
	}
	raw, _ := json.Marshal(map[string]any{"items": items})
	return &completion.Response{Raw: raw, Model: "claude-haiku-4-5-20251001", Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 20, Calls: 1}}
}

func promptHas(s string) any {
	return mock.MatchedBy(func(r completion.Request) bool { return strings.Contains(r.Prompt, s) })
}

// threeParagraphs splits into exactly three chunks at maxChars=60.
const threeParagraphs = "Alpha Suite is a CRM product sold by Acme.\n\n" +
	"Beta Desk is a help desk service by Bolt.\n\n" +
	"Gamma Pay is a payments platform by Coin."

func textResult(text string) *analyze.Result {
	return &analyze.Result{
		Structure: &model.DocumentStructure{Type: model.DocumentTypeFreeText, Confidence: 0.75},
		Strategy:  model.StrategyHybrid,
		Document:  &parse.Document{Name: "notes.txt", Format: parse.FormatText, Text: text},
	}
}

func TestNormalizeAndFingerprint(t *testing.T) {
	assert.Equal(t, "cafe crm platform", Normalize("  Café\tCRM \n Platform "))
	assert.Equal(t, Fingerprint("Cloud CRM"), Fingerprint("cloud   crm"))
	assert.NotEqual(t, Fingerprint("Cloud CRM"), Fingerprint("Cloud ERP"))
	assert.Len(t, Fingerprint("x"), 64)
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split("   ", 100, 0))
	assert.Equal(t, []string{"short"}, Split("short", 100, 10))

	pieces := Split(threeParagraphs, 60, 0)
	require.Len(t, pieces, 3)
	assert.True(t, strings.HasPrefix(pieces[1], "Beta Desk"))
	assert.Equal(t, threeParagraphs, strings.Join(pieces, ""))

	long := strings.Repeat("word ", 500)
	pieces = Split(long, 200, 40)
	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 200)
	}
	// overlap means the pieces cover more than the input
	total := 0
	for _, p := range pieces {
		total += len(p)
	}
	assert.Greater(t, total, len(long))
}

func TestSplit_UTF8Safe(t *testing.T) {
	text := strings.Repeat("é", 300)
	for _, p := range Split(text, 101, 7) {
		assert.True(t, strings.HasPrefix(p, "é"))
		assert.Equal(t, 0, len(strings.TrimRight(p, "é")))
	}
}

func TestCanonicalField(t *testing.T) {
	assert.Equal(t, "name", CanonicalField("Product Name"))
	assert.Equal(t, "budget", CanonicalField("annual_cost"))
	assert.Equal(t, "owner", CanonicalField("Business-Owner"))
	assert.Equal(t, "contract_end", CanonicalField("Contract End"))
}

func TestScheduler_TableFirstIsDeterministic(t *testing.T) {
	a := analyze.New(parse.New(nil, 0), nil)
	an, err := a.Analyze(context.Background(), nil, model.IngestFile{
		Name: "apps.csv",
		Data: []byte("Product Name,Vendor,Annual Cost,Owner\nSalesforce,Salesforce,\"120,000\",Sales\n,Orphan,5,IT\nJira,Atlassian,8000,Engineering\n"),
	})
	require.NoError(t, err)
	require.Equal(t, model.StrategyTableFirst, an.Strategy)

	m := &mockCompleter{}
	s := NewScheduler(testCaller(m), nil, Config{MaxChars: 8000})
	res, err := s.Run(context.Background(), nil, "acme", an)
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "Salesforce", res.Items[0].Name)
	assert.Equal(t, model.SourceSpreadsheetRow, res.Items[0].SourceType)
	budget, ok := res.Items[0].RawFields["budget"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 120000.0, budget)
	assert.Equal(t, 1, res.Items[1].Order)
	assert.Equal(t, "chunk-0000", res.Items[1].SourceChunkID)
	assert.Equal(t, 1, res.Skipped)
	assert.Contains(t, res.Warnings[0], "1 records without a name skipped")
	m.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestScheduler_PreservesDocumentOrder(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, promptHas("Alpha")).After(40*time.Millisecond).Return(itemsResponse("Alpha Suite"), nil)
	m.On("Complete", mock.Anything, promptHas("Beta")).After(20*time.Millisecond).Return(itemsResponse("Beta Desk"), nil)
	m.On("Complete", mock.Anything, promptHas("Gamma")).Return(itemsResponse("Gamma Pay"), nil)

	s := NewScheduler(testCaller(m), nil, Config{MaxChars: 60, Concurrency: 3})
	tr := cost.NewTracker()
	res, err := s.Run(context.Background(), tr, "acme", textResult(threeParagraphs))
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, []string{"Alpha Suite", "Beta Desk", "Gamma Pay"}, []string{res.Items[0].Name, res.Items[1].Name, res.Items[2].Name})
	for i, it := range res.Items {
		assert.Equal(t, i, it.Order)
		assert.Equal(t, model.SourceTextBlock, it.SourceType)
	}
	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, 3, tr.Phase("extract").Calls)
}

func TestScheduler_CacheSkipsSecondCall(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, promptHas("Alpha")).Return(itemsResponse("Alpha Suite"), nil).Once()
	m.On("Complete", mock.Anything, promptHas("Beta")).Return(itemsResponse("Beta Desk"), nil).Once()
	m.On("Complete", mock.Anything, promptHas("Gamma")).Return(itemsResponse("Gamma Pay"), nil).Once()

	c := cache.New(nil, time.Minute, time.Hour)
	s := NewScheduler(testCaller(m), c, Config{MaxChars: 60})

	first, err := s.Run(context.Background(), nil, "acme", textResult(threeParagraphs))
	require.NoError(t, err)
	second, err := s.Run(context.Background(), nil, "acme", textResult(threeParagraphs))
	require.NoError(t, err)

	assert.Equal(t, 0, second.Calls)
	assert.Equal(t, 3, second.CacheHits[cache.TierL1])
	assert.Equal(t, len(first.Items), len(second.Items))
	m.AssertNumberOfCalls(t, "Complete", 3)

	// another tenant never sees acme's entries
	m.On("Complete", mock.Anything, mock.Anything).Return(itemsResponse("X"), nil)
	other, err := s.Run(context.Background(), nil, "globex", textResult(threeParagraphs))
	require.NoError(t, err)
	assert.Equal(t, 3, other.Calls)
}

func TestScheduler_PartialChunk(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, promptHas("Alpha")).Return(itemsResponse("Alpha Suite"), nil)
	m.On("Complete", mock.Anything, promptHas("Beta")).Return(nil, resilience.NewTransientError(eris.New("overloaded"), 529))
	m.On("Complete", mock.Anything, promptHas("Gamma")).Return(itemsResponse("Gamma Pay"), nil)

	s := NewScheduler(testCaller(m), nil, Config{MaxChars: 60})
	res, err := s.Run(context.Background(), nil, "acme", textResult(threeParagraphs))
	require.NoError(t, err)

	assert.Equal(t, 1, res.ChunksPartial)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Gamma Pay", res.Items[1].Name)
	assert.Equal(t, 1, res.Items[1].Order)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "1 of 3 chunks skipped after repeated failures")
	// transient errors are retried before giving up
	m.AssertNumberOfCalls(t, "Complete", 4)
}

func TestScheduler_CancellationFinishesInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &mockCompleter{}
	m.On("Complete", mock.Anything, promptHas("Alpha")).
		Run(func(mock.Arguments) { cancel() }).
		Return(itemsResponse("Alpha Suite"), nil).Once()

	c := cache.New(nil, time.Minute, time.Hour)
	s := NewScheduler(testCaller(m), c, Config{MaxChars: 60, Concurrency: 1})
	res, err := s.Run(ctx, nil, "acme", textResult(threeParagraphs))
	require.Error(t, err)

	require.Len(t, res.Items, 1)
	assert.Equal(t, 2, res.ChunksSkipped)
	assert.Contains(t, res.Warnings[0], "2 chunks not processed")

	// the in-flight result was cached for the retry
	pieces := Split(threeParagraphs, 60, 0)
	_, tier, ok := c.Get(context.Background(), "acme", Fingerprint(pieces[0]))
	assert.True(t, ok)
	assert.Equal(t, cache.TierL1, tier)
	m.AssertNumberOfCalls(t, "Complete", 1)
}

func TestScheduler_SectionBySection(t *testing.T) {
	text := "# CRM\nSalesforce is our CRM.\n# Support\nZendesk handles tickets.\n"
	an := &analyze.Result{
		Structure: &model.DocumentStructure{
			Type: model.DocumentTypeReport,
			Sections: []model.Section{
				{Index: 0, Title: "CRM", Start: 0, End: 29},
				{Index: 1, Title: "Support", Start: 29, End: len(text)},
			},
		},
		Strategy: model.StrategySectionBySection,
		Document: &parse.Document{Name: "r.md", Format: parse.FormatText, Text: text},
	}

	m := &mockCompleter{}
	m.On("Complete", mock.Anything, promptHas(`section "CRM"`)).Return(itemsResponse("Salesforce"), nil).Once()
	m.On("Complete", mock.Anything, promptHas(`section "Support"`)).Return(itemsResponse("Zendesk"), nil).Once()

	res, err := NewScheduler(testCaller(m), nil, Config{}).Run(context.Background(), nil, "acme", an)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "Zendesk", res.Items[1].Name)
	m.AssertExpectations(t)
}

func TestParseItems(t *testing.T) {
	items, skipped, err := parseItems([]byte(`[{"name":"Okta","Annual Cost":"$40k","owner":null},{"name":""}]`), "chunk-0001")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, items, 1)
	v, ok := items[0].RawFields["budget"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 40000.0, v)
	_, hasOwner := items[0].RawFields["owner"]
	assert.False(t, hasOwner)

	_, _, err = parseItems([]byte(`{"answer":"none"}`), "c")
	assert.True(t, resilience.IsInvalidOutput(err))
}

func TestScheduler_EmptyDocument(t *testing.T) {
	res, err := NewScheduler(nil, nil, Config{}).Run(context.Background(), nil, "acme", &analyze.Result{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestScheduler_IdenticalChunksShareOneCall(t *testing.T) {
	page := "Okta handles single sign-on for every employee."
	an := &analyze.Result{
		Structure: &model.DocumentStructure{Type: model.DocumentTypePresentation, Confidence: 0.8},
		Strategy:  model.StrategyVisualGuided,
		Document:  &parse.Document{Name: "deck.pdf", Format: parse.FormatPDF, Text: page + "\n\n" + page, Pages: []string{page, page}},
	}

	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.Anything).After(50*time.Millisecond).Return(itemsResponse("Okta"), nil)

	s := NewScheduler(testCaller(m), cache.New(nil, time.Minute, time.Hour), Config{Concurrency: 2})
	res, err := s.Run(context.Background(), nil, "acme", an)
	require.NoError(t, err)

	assert.Equal(t, 2, res.ChunksTotal)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "chunk-0000", res.Items[0].SourceChunkID)
	assert.Equal(t, "chunk-0001", res.Items[1].SourceChunkID)
	assert.Equal(t, 1, res.Calls)
	// the second chunk either waited on the first call or found its result
	assert.Equal(t, 1, res.Shared+res.CacheHits[cache.TierL1])
	m.AssertNumberOfCalls(t, "Complete", 1)
}

func TestScheduler_WrongShapeIsRepaired(t *testing.T) {
	m := &mockCompleter{}
	m.On("Complete", mock.Anything, mock.MatchedBy(func(r completion.Request) bool {
		return !strings.Contains(r.Prompt, "could not be parsed")
	})).Return(&completion.Response{Raw: json.RawMessage(`{"answer":"Alpha Suite"}`), Usage: model.TokenUsage{Calls: 1}}, nil).Once()
	m.On("Complete", mock.Anything, mock.MatchedBy(func(r completion.Request) bool {
		return strings.Contains(r.Prompt, "could not be parsed")
	})).Return(itemsResponse("Alpha Suite"), nil).Once()

	s := NewScheduler(testCaller(m), nil, Config{})
	res, err := s.Run(context.Background(), nil, "acme", textResult("Alpha Suite is a CRM product sold by Acme."))
	require.NoError(t, err)

	assert.Zero(t, res.ChunksPartial)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Alpha Suite", res.Items[0].Name)
	m.AssertExpectations(t)
}
