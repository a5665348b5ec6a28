package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
	}{
		{
			name: "defaults sslmode to disable",
			config: Config{
				Host: "localhost", Port: 5432, User: "postgres", Password: "postgres", Database: "mfdp",
			},
			expected: "host=localhost port=5432 user=postgres password=postgres dbname=mfdp sslmode=disable",
		},
		{
			name: "keeps explicit sslmode",
			config: Config{
				Host: "db", Port: 5433, User: "svc", Password: "secret", Database: "jobs", SSLMode: "require",
			},
			expected: "host=db port=5433 user=svc password=secret dbname=jobs sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}
