package model

import (
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// innoDBMaxKeyBytes is the InnoDB index key limit with DYNAMIC row format
const innoDBMaxKeyBytes = 3072

var varcharRe = regexp.MustCompile(`(?i)^varchar\((\d+)\)`)

// keyBytes sizes a column as MySQL does under utf8mb4
func keyBytes(t *testing.T, f *schema.Field) int {
	t.Helper()
	if m := varcharRe.FindStringSubmatch(f.TagSettings["TYPE"]); m != nil {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		return n * 4
	}
	if f.DataType == schema.Bool {
		return 1
	}
	// integers, floats and datetimes all fit in eight
	return 8
}

func TestIndexesFitInnoDBKeyLimit(t *testing.T) {
	cache := &sync.Map{}
	for _, m := range []interface{}{&Contact{}, &MessageRecord{}, &Interaction{}, &Notification{}, &IngestLog{}} {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		require.NoError(t, err)

		for name, idx := range s.ParseIndexes() {
			total := 0
			for _, opt := range idx.Fields {
				total += keyBytes(t, opt.Field)
			}
			assert.LessOrEqual(t, total, innoDBMaxKeyBytes, "%s.%s is %d bytes", s.Table, name, total)
		}
	}
}

func TestSenderIndexColumns(t *testing.T) {
	s, err := schema.Parse(&MessageRecord{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	idx, ok := s.ParseIndexes()["idx_messages_tenant_sender"]
	require.True(t, ok)
	var cols []string
	for _, opt := range idx.Fields {
		cols = append(cols, opt.DBName)
	}
	assert.ElementsMatch(t, []string{"tenant_id", "from_email"}, cols)
}

func TestVarcharWidthsMatchLimits(t *testing.T) {
	s, err := schema.Parse(&MessageRecord{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	widths := map[string]int{
		"message_id": MaxMessageIDLength,
		"subject":    MaxSubjectLength,
		"from_email": MaxAddressLength,
		"from_name":  MaxNameLength,
		"to_email":   MaxAddressLength,
		"to_name":    MaxNameLength,
	}
	for col, want := range widths {
		f := s.LookUpField(col)
		require.NotNil(t, f, col)
		assert.Equal(t, want*4, keyBytes(t, f), col)
	}
}
