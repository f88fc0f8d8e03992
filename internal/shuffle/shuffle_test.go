package shuffle

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/model"
)

func sampleQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:       uuid.New(),
			Type:     model.QuestionTypeMultipleChoice,
			OrderNum: i + 1,
			Options: []model.Option{
				{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"},
			},
		}
	}
	return qs
}

func ids(qs []model.Question) []uuid.UUID {
	out := make([]uuid.UUID, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func TestQuestionsDeterministic(t *testing.T) {
	qs := sampleQuestions(20)
	original := ids(qs)

	a := Questions(qs, "session-1")
	b := Questions(qs, "session-1")
	assert.Equal(t, ids(a), ids(b))
	assert.ElementsMatch(t, original, ids(a))
	assert.Equal(t, original, ids(qs), "input must not be reordered")
}

func TestQuestionsVaryByKey(t *testing.T) {
	qs := sampleQuestions(20)
	first := ids(Questions(qs, "key-0"))

	differs := false
	for i := 1; i < 10 && !differs; i++ {
		differs = fmt.Sprint(ids(Questions(qs, fmt.Sprintf("key-%d", i)))) != fmt.Sprint(first)
	}
	assert.True(t, differs)
}

func TestOptions(t *testing.T) {
	q := sampleQuestions(1)[0]
	got := Options(q, "student")

	assert.ElementsMatch(t, q.Options, got.Options)
	assert.Equal(t, got.Options, Options(q, "student").Options)
	assert.Equal(t, []model.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}, q.Options)

	essay := model.Question{ID: uuid.New(), Type: model.QuestionTypeEssay}
	assert.Equal(t, essay, Options(essay, "student"))
}

func TestApply(t *testing.T) {
	qs := sampleQuestions(8)

	plain := Apply(qs, model.SecuritySettings{}, "k")
	require.Equal(t, ids(qs), ids(plain))
	for i := range plain {
		assert.Equal(t, qs[i].Options, plain[i].Options)
	}

	both := Apply(qs, model.SecuritySettings{RandomizeQuestions: true, RandomizeOptions: true}, "k")
	assert.Equal(t, ids(Questions(qs, "k")), ids(both))
	for _, q := range both {
		assert.Len(t, q.Options, 5)
	}
}
