package database

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "hello", truncateTitle("hello"))

	long := strings.Repeat("x", conversationTitleLen+10)
	assert.Len(t, truncateTitle(long), conversationTitleLen)

	exact := strings.Repeat("x", conversationTitleLen)
	assert.Equal(t, exact, truncateTitle(exact))
}

func TestTruncateTitleMultibyte(t *testing.T) {
	// "é" is two bytes and spans the cut position; the cut must back up to
	// the rune boundary instead of splitting it
	seed := strings.Repeat("a", conversationTitleLen-1) + "é and more text"
	title := truncateTitle(seed)

	assert.True(t, utf8.ValidString(title), "expected a valid UTF-8 title")
	assert.Equal(t, strings.Repeat("a", conversationTitleLen-1), title)
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	assert.Equal(t, "value", nullString("value"))
}

func TestFindOrCreateConversation(t *testing.T) {
	t.Run("lookup failure is returned, not masked by the insert", func(t *testing.T) {
		conn, dbMock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to open sqlmock: %v", err)
		}
		defer conn.Close()

		lookupErr := errors.New("connection reset")
		dbMock.ExpectQuery("SELECT id, chatbot_id, title").WillReturnError(lookupErr)

		db := &PgBotForgeRepository{conn: conn}
		_, err = db.FindOrCreateConversation("conv1", 7, "hi")

		assert.ErrorIs(t, err, lookupErr)
		assert.NoError(t, dbMock.ExpectationsWereMet(), "expected no insert after a failed lookup")
	})

	t.Run("missing conversation falls through to the insert", func(t *testing.T) {
		conn, dbMock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to open sqlmock: %v", err)
		}
		defer conn.Close()

		dbMock.ExpectQuery("SELECT id, chatbot_id, title").WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery("INSERT INTO conversations").
			WithArgs("conv1", 7, "hi", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "chatbot_id", "title", "created_at"}).
				AddRow("conv1", 7, "hi", time.Now()))

		db := &PgBotForgeRepository{conn: conn}
		conv, err := db.FindOrCreateConversation("conv1", 7, "hi")

		assert.NoError(t, err)
		assert.Equal(t, "conv1", conv.Id)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
