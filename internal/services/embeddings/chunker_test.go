package embeddings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func testPipelineConfig() *common.PipelineConfig {
	cfg := common.NewDefaultConfig().Pipeline
	return &cfg
}

func floatPtr(v float64) *float64 { return &v }

func TestSplitPageShortText(t *testing.T) {
	chunker := NewChunker(testPipelineConfig())

	chunks, err := chunker.SplitPage(&models.DocumentPage{
		ID:       "page-1",
		PageText: "Revenue grew 12% year over year.",
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, "page-1", chunks[0].PageID)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "Revenue grew 12% year over year.", chunks[0].Content)
	assert.Empty(t, chunks[0].Field)
	assert.NotEmpty(t, chunks[0].ID)
}

func TestSplitPageBlankTextYieldsNothing(t *testing.T) {
	chunker := NewChunker(testPipelineConfig())

	chunks, err := chunker.SplitPage(&models.DocumentPage{ID: "page-1", PageText: "   \n\t "})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitPageRespectsSizeAndOverlap(t *testing.T) {
	cfg := testPipelineConfig()
	chunker := NewChunker(cfg)

	// Several paragraphs well past one chunk's worth of characters.
	paragraph := strings.Repeat("The company reported steady operating margins across all segments. ", 20)
	text := paragraph + "\n\n" + paragraph + "\n\n" + paragraph

	chunks, err := chunker.SplitPage(&models.DocumentPage{ID: "page-1", PageText: text})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	limit := cfg.ChunkSize * charsPerToken
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), limit, "chunk %d exceeds the size limit", i)
		assert.Equal(t, i, chunk.ChunkIndex)
	}
}

func TestSplitPageCapsChunksPerPage(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxChunksPerPage = 3
	chunker := NewChunker(cfg)

	text := strings.Repeat("A sentence that fills space in the page body. ", 600)
	chunks, err := chunker.SplitPage(&models.DocumentPage{ID: "page-1", PageText: text})
	require.NoError(t, err)

	assert.Len(t, chunks, 3)
}

func TestFieldChunksCoverExtractionFields(t *testing.T) {
	chunker := NewChunker(testPipelineConfig())

	data := &models.ExtractedData{
		CompanyName:      "TATA MOTORS LTD",
		FiscalYear:       "2024-25",
		ReportType:       "Annual Report",
		Revenue:          floatPtr(437928),
		RevenueUnit:      "crores",
		NetProfit:        floatPtr(31807),
		EPS:              floatPtr(83.2),
		KeyHighlights:    []string{"Record revenue", "JLR margin recovery"},
		BusinessSegments: []string{"Commercial Vehicles", "Passenger Vehicles"},
		RiskFactors:      []string{"Commodity price inflation"},
		Outlook:          "Management expects demand to stay firm.",
		Auditor:          "BSR & Co. LLP",
		RegisteredOffice: "Bombay House, Mumbai",
	}

	chunks := chunker.FieldChunks("page-1", 4, data)
	require.NotEmpty(t, chunks)

	byField := map[string][]string{}
	for i, chunk := range chunks {
		assert.Equal(t, "page-1", chunk.PageID)
		assert.Equal(t, 4+i, chunk.ChunkIndex, "indexes continue the page sequence")
		byField[chunk.Field] = append(byField[chunk.Field], chunk.Content)
	}

	require.Len(t, byField["company_overview"], 1)
	assert.Contains(t, byField["company_overview"][0], "Company: TATA MOTORS LTD")
	assert.Contains(t, byField["company_overview"][0], "Fiscal Year: 2024-25")

	require.Len(t, byField["financial_highlights"], 1)
	assert.Contains(t, byField["financial_highlights"][0], "Revenue: 437928 crores")
	assert.Contains(t, byField["financial_highlights"][0], "Net Profit: 31807")
	assert.Contains(t, byField["financial_highlights"][0], "EPS: 83.2")

	assert.Len(t, byField["key_highlights"], 2)
	assert.Equal(t, "Key Highlight: Record revenue", byField["key_highlights"][0])

	require.Len(t, byField["business_segments"], 1)
	assert.Equal(t, "Business Segments: Commercial Vehicles, Passenger Vehicles", byField["business_segments"][0])

	require.Len(t, byField["risk_factors"], 1)
	assert.Equal(t, "Risk Factor: Commodity price inflation", byField["risk_factors"][0])

	require.Len(t, byField["outlook"], 1)
	assert.Equal(t, "Future Outlook: Management expects demand to stay firm.", byField["outlook"][0])

	assert.Equal(t, []string{"Auditor: BSR & Co. LLP"}, byField["auditor"])
	assert.Equal(t, []string{"Registered Office: Bombay House, Mumbai"}, byField["registered_office"])
}

func TestFieldChunksSkipsEmptyValues(t *testing.T) {
	chunker := NewChunker(testPipelineConfig())

	chunks := chunker.FieldChunks("page-1", 0, &models.ExtractedData{
		CompanyName:   "ACME LTD",
		KeyHighlights: []string{"", "  ", "Real highlight"},
	})

	fields := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		fields = append(fields, chunk.Field)
	}
	assert.Equal(t, []string{"company_overview", "key_highlights"}, fields)
	assert.Equal(t, "Key Highlight: Real highlight", chunks[1].Content)
}

func TestFieldChunksNilData(t *testing.T) {
	chunker := NewChunker(testPipelineConfig())
	assert.Nil(t, chunker.FieldChunks("page-1", 0, nil))
}

func TestFieldChunksSplitsLongOutlook(t *testing.T) {
	cfg := testPipelineConfig()
	chunker := NewChunker(cfg)

	long := strings.Repeat("Demand in the commercial vehicle segment is expected to remain strong. ", 60)
	chunks := chunker.FieldChunks("page-1", 0, &models.ExtractedData{Outlook: long})

	require.Greater(t, len(chunks), 1)
	limit := cfg.ChunkSize*charsPerToken + len("Future Outlook: ")
	for _, chunk := range chunks {
		assert.Equal(t, "outlook", chunk.Field)
		assert.True(t, strings.HasPrefix(chunk.Content, "Future Outlook: "))
		assert.LessOrEqual(t, len(chunk.Content), limit)
	}
}
