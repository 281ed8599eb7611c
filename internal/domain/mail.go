package domain

type MailMessage struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Data any    `json:"data"`
}

type RunFinishedMailData struct {
	RunID           string    `json:"runID"`
	Status          RunStatus `json:"status"`
	Generations     int       `json:"generations"`
	StopReason      string    `json:"stopReason"`
	PredictedClicks float64   `json:"predictedClicks"`
	Cost            float64   `json:"cost"`
	ErrorMessage    string    `json:"errorMessage"`
}
