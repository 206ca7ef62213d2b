package models

// Requests for the analysis HTTP endpoints and the Kafka intake topic.

type AnalyzeRequest struct {
	Tickers         []string `json:"tickers" validate:"required,min=1,max=25,dive,required,max=12"`
	Agents          []string `json:"agents" validate:"omitempty,dive,required"`
	SkipSpecialists bool     `json:"skip_specialists"`
	DeadlineSeconds int      `json:"deadline_seconds" default:"0" validate:"gte=0,lte=1800"`
}

type EstimateRequest struct {
	Tickers         []string `json:"tickers" validate:"required,min=1,max=25,dive,required,max=12"`
	Agents          []string `json:"agents" validate:"omitempty,dive,required"`
	SkipSpecialists bool     `json:"skip_specialists"`
}

type HistoryRequest struct {
	Ticker string `query:"ticker" json:"ticker" validate:"omitempty,max=12"`
	Signal string `query:"signal" json:"signal" validate:"omitempty,oneof=STRONG_BUY BUY HOLD SELL STRONG_SELL"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
}

type AgentsRequest struct {
	Kind string `query:"kind" json:"kind" validate:"omitempty,oneof=investor specialist"`
}
