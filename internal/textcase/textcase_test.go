package textcase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWords(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"my-project", []string{"my", "project"}},
		{"my_project name", []string{"my", "project", "name"}},
		{"myProject", []string{"my", "project"}},
		{"MyHTTPServer", []string{"my", "http", "server"}},
		{"api2Client", []string{"api2", "client"}},
		{"", nil},
		{"---", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Words(tt.input))
		})
	}
}

func TestConversions(t *testing.T) {
	const in = "awesome web-app"

	assert.Equal(t, "awesome-web-app", Kebab(in))
	assert.Equal(t, "awesome_web_app", Snake(in))
	assert.Equal(t, "AwesomeWebApp", Pascal(in))
	assert.Equal(t, "awesomeWebApp", Camel(in))
	assert.Equal(t, "Awesome Web App", Title(in))
	assert.Equal(t, "AWESOME_WEB_APP", Constant(in))
	assert.Equal(t, "AWESOME WEB-APP", Upper(in))
	assert.Equal(t, "awesome web-app", Lower("Awesome Web-App"))
}
