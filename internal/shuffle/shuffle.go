// Package shuffle produces per-student question and option orders that are
// stable across reconnects.
package shuffle

import (
	"hash/fnv"
	"math/rand/v2"

	"github.com/stemsi/exstem-examroom/internal/model"
)

func source(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Questions returns a copy of questions in an order determined by key.
func Questions(questions []model.Question, key string) []model.Question {
	out := make([]model.Question, len(questions))
	copy(out, questions)
	r := source("questions", key)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// Options returns a copy of q with its multiple-choice options reordered by
// key. Other question types are returned unchanged.
func Options(q model.Question, key string) model.Question {
	if q.Type != model.QuestionTypeMultipleChoice || len(q.Options) < 2 {
		return q
	}
	opts := make([]model.Option, len(q.Options))
	copy(opts, q.Options)
	r := source("options", key, q.ID.String())
	r.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	q.Options = opts
	return q
}

// Apply applies the exam's randomization settings for a student.
func Apply(questions []model.Question, settings model.SecuritySettings, key string) []model.Question {
	out := questions
	if settings.RandomizeQuestions {
		out = Questions(out, key)
	} else {
		out = append([]model.Question(nil), questions...)
	}
	if settings.RandomizeOptions {
		for i := range out {
			out[i] = Options(out[i], key)
		}
	}
	return out
}
