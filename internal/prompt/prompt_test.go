package prompt

import (
	"strings"
	"testing"
)

func TestDirectSQL(t *testing.T) {
	p := DirectSQL("Table users (id INTEGER; name TEXT)", "sqlite")
	for _, want := range []string{
		"Table users",
		"DIALECT: sqlite",
		`"type": "database_query"`,
		`"type": "conversation"`,
		"100 rows",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("DirectSQL prompt missing %q", want)
		}
	}
}

func TestDirectMongo(t *testing.T) {
	p := DirectMongo("movies: {title: string}")
	for _, want := range []string{
		"movies",
		`"operation": "find|count"`,
		"$regex",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("DirectMongo prompt missing %q", want)
		}
	}
}

func TestReactSQL(t *testing.T) {
	p := ReactSQL("Table users (id INTEGER)", "postgresql")
	if !strings.Contains(p, "postgresql") {
		t.Error("ReactSQL prompt missing dialect")
	}
	if !strings.Contains(p, "run_sql") {
		t.Error("ReactSQL prompt missing tool guidance")
	}
	if !strings.Contains(p, "Table users") {
		t.Error("ReactSQL prompt missing schema")
	}
}

func TestReactMongo(t *testing.T) {
	p := ReactMongo("movies")
	if !strings.Contains(p, "run_find") || !strings.Contains(p, "run_count") {
		t.Error("ReactMongo prompt missing tool guidance")
	}
	if !strings.Contains(p, "movies") {
		t.Error("ReactMongo prompt missing schema")
	}
}
