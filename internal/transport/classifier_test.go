package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifierMatchesRedirectHop(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		History:    []string{"https://portal.test/SessionExpire.aspx"},
		FinalURL:   "https://portal.test/ResLogin",
	}
	assert.True(t, USMSClassifier{}.Expired(resp))
}

func TestClassifierMatchesFinalURL(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		FinalURL:   "https://portal.test/SessionExpire.aspx?from=AccountInfo",
	}
	assert.True(t, USMSClassifier{}.Expired(resp))
}

func TestClassifierMatchesBanner(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		FinalURL:   "https://portal.test/AccountInfo",
		Body:       []byte("<html>Your Session Has Expired, Please Login Again.</html>"),
	}
	assert.True(t, USMSClassifier{}.Expired(resp))
}

func TestClassifierIgnoresHealthyResponses(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		FinalURL:   "https://portal.test/AccountInfo",
		Body:       []byte("<html>welcome</html>"),
	}
	assert.False(t, USMSClassifier{}.Expired(resp))
	assert.False(t, USMSClassifier{}.Expired(nil))
}
