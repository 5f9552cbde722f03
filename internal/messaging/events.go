package messaging

import "encoding/json"

// SubjectQuestionAdmitted carries a QuestionAdmitted for every newly admitted question.
const SubjectQuestionAdmitted = "operator.questions.admitted"

type QuestionAdmitted struct {
	RequestID  string `json:"request_id"`
	NodeID     string `json:"node_id"`
	PromptHash string `json:"prompt_hash,omitempty"`
	Requester  string `json:"requester,omitempty"`
	Position   string `json:"position"`
	AdmittedAt int64  `json:"admitted_at"` // unix millis
}

// PublishJSON marshals v and publishes it on subject.
func PublishJSON(b Bus, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Publish(subject, data)
}
