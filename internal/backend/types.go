package backend

// Stock is a real-time stock snapshot.
type Stock struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name,omitempty"`
	Price         float64  `json:"price"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"changePercent"`
	Volume        float64  `json:"volume"`
	MarketCap     *float64 `json:"marketCap,omitempty"`
	PE            *float64 `json:"pe,omitempty"`
	Dividend      *float64 `json:"dividend,omitempty"`
	High          float64  `json:"high"`
	Low           float64  `json:"low"`
	Open          float64  `json:"open"`
	PreviousClose float64  `json:"previousClose"`
	Sector        string   `json:"sector,omitempty"`
	Industry      string   `json:"industry,omitempty"`
	Description   string   `json:"description,omitempty"`
	Currency      string   `json:"currency,omitempty"`
}

// ChartPoint is one OHLCV bar.
type ChartPoint struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type chartEnvelope struct {
	Symbol   string       `json:"symbol"`
	Period   string       `json:"period"`
	Interval string       `json:"interval"`
	Data     []ChartPoint `json:"data"`
}

type NewsArticle struct {
	Title          string  `json:"title"`
	Summary        string  `json:"summary,omitempty"`
	URL            string  `json:"url"`
	PublishedAt    string  `json:"publishedAt,omitempty"`
	Source         string  `json:"source,omitempty"`
	Publisher      string  `json:"publisher,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label,omitempty"`
}

// NewsReport groups a symbol's articles by news source with an aggregate
// sentiment.
type NewsReport struct {
	Symbol           string                   `json:"symbol"`
	BySource         map[string][]NewsArticle `json:"news_by_source"`
	SentimentScore   float64                  `json:"overall_sentiment_score"`
	SentimentLabel   string                   `json:"overall_sentiment_label"`
	TotalArticles    int                      `json:"total_articles"`
	SourcesAvailable []string                 `json:"sources_available"`
	ErrorMessages    []string                 `json:"error_messages,omitempty"`
}

// Prediction is the ML outlook for a ticker.
type Prediction struct {
	Ticker         string  `json:"ticker"`
	Signal         string  `json:"signal"`
	Confidence     float64 `json:"confidence"`
	Sentiment      string  `json:"sentiment"`
	RiskLevel      string  `json:"risk_level"`
	PredictedPrice float64 `json:"predicted_price"`
	Error          string  `json:"error,omitempty"`
}

type SearchResult struct {
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name"`
	Price     *float64 `json:"price,omitempty"`
	Change    *float64 `json:"change,omitempty"`
	Sector    string   `json:"sector,omitempty"`
	Relevance *int     `json:"relevance,omitempty"`
}

// Technical holds the indicator values keyed by name (sma_20, rsi, macd_line...).
type Technical map[string]float64
