package private

type result struct {
	Status string `json:"status"`
	Msg    string `json:"msg,omitempty"`
}

type hashes struct {
	Hashes []string `json:"hashes" validate:"required,min=1,dive,required"`
}

type removedInfo struct {
	Status  string   `json:"status"`
	Removed []string `json:"removed"`
}
