package cli

import "trivia-live-service/internal/domain"

// sampleQuestions serves when no Postgres is configured. It mirrors the seed migration.
func sampleQuestions() map[string]domain.Question {
	questions := []domain.Question{
		{ID: "sample-1", Prompt: "Which symbol shines at night?", Correct: domain.AnswerContent{Symbol: "star"}},
		{ID: "sample-2", Prompt: "Pick the colors of the flag, in any order.", Correct: domain.AnswerContent{Colors: []string{"red", "white"}}},
		{ID: "sample-3", Prompt: "How many legs does a spider have?", Correct: domain.AnswerContent{Number: "8"}},
		{ID: "sample-4", Prompt: "What is 2 + 2?", Correct: domain.AnswerContent{Number: "4"}},
		{ID: "sample-5", Prompt: "Which symbol follows the sun?", Correct: domain.AnswerContent{Symbol: "moon"}},
	}
	out := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		out[q.ID] = q
	}
	return out
}
