package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/consult-api/internal/model"
)

func TestInterpret(t *testing.T) {
	allergy := DefaultRules()[0].Note

	tests := []struct {
		name       string
		transcript string
		want       model.Note
	}{
		{"empty", "", EmptyNote},
		{"whitespace only", "   \n\t ", EmptyNote},
		{"stuffy nose", "I've had a stuffy nose for two weeks", allergy},
		{"itchy eyes uppercase", "My ITCHY EYES are terrible", allergy},
		{"both phrases", "Stuffy nose and itchy eyes", allergy},
		{"no match", "My knee hurts when I run", UnknownNote},
		{"near miss", "my nose is stuffy", UnknownNote},
	}

	interp := NewInterpreter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, interp.Interpret(tt.transcript))
		})
	}
}

func TestInterpret_AllergyText(t *testing.T) {
	note := NewInterpreter().Interpret("stuffy nose")
	assert.Equal(t, "Seasonal allergic rhinitis, mild-moderate.", note.Assessment)
	assert.Contains(t, note.Plan, "loratadine 10mg")
	assert.Contains(t, note.Objective, "36.8°C")
}

func TestInterpret_FirstMatchWins(t *testing.T) {
	cough := Rule{
		Name:    "cough",
		Phrases: []string{"cough"},
		Note:    model.Note{Subjective: "cough", Objective: "-", Assessment: "Acute cough.", Plan: "Fluids."},
	}
	rules := append([]Rule{cough}, DefaultRules()...)
	interp := NewInterpreter(rules...)

	assert.Equal(t, cough.Note, interp.Interpret("cough with stuffy nose"))
	assert.Equal(t, DefaultRules()[0].Note, interp.Interpret("stuffy nose only"))

	appended := NewInterpreter(append(DefaultRules(), cough)...)
	assert.Equal(t, DefaultRules()[0].Note, appended.Interpret("cough with stuffy nose"))
	assert.Equal(t, cough.Note, appended.Interpret("a dry cough"))
}

func TestInterpret_EmptyPhraseNeverMatches(t *testing.T) {
	interp := NewInterpreter(Rule{Name: "blank", Phrases: []string{""}, Note: model.Note{Subjective: "x"}})
	assert.Equal(t, UnknownNote, interp.Interpret("anything"))
}

func TestRules_ReturnsCopy(t *testing.T) {
	interp := NewInterpreter()
	rules := interp.Rules()
	rules[0].Note.Assessment = "changed"
	assert.Equal(t, "Seasonal allergic rhinitis, mild-moderate.", interp.Interpret("itchy eyes").Assessment)
}
