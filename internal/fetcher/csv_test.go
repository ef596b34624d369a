package fetcher

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "a,b,c\n1,2,3\n4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"4", "5", "6"}, rows[2])
}

func TestStreamCSV_FullyQuotedWithLeadingSpace(t *testing.T) {
	input := `"Report Number", "Incident State"` + "\n" + `"PHM-1",  "TX"` + "\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader:        true,
		HeaderCh:         headerCh,
		TrimLeadingSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, []string{"PHM-1", "TX"}, rows[0])
	assert.Equal(t, []string{"Report Number", "Incident State"}, <-headerCh)
}

func TestStreamCSV_FixedWidthRejectsShortRow(t *testing.T) {
	input := "a,b,c\n1,2,3\n4,5\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{FixedWidth: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Len(t, rows, 2)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Line)
	assert.True(t, errors.Is(err, csv.ErrFieldCount))
}

func TestStreamCSV_VariableWidthAllowedByDefault(t *testing.T) {
	input := "a,b,c\n4,5\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStreamCSV_BadQuoting(t *testing.T) {
	input := "a,b\n\"unterminated,2\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: line")
}

func TestStreamCSV_LazyQuotes(t *testing.T) {
	input := "a,b,c\n1,\"hello \"world\",3\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		LazyQuotes: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestStreamCSV_Empty(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(""), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count == 5 {
			cancel()
		}
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}

func TestReadAllCSV(t *testing.T) {
	input := "name,age\nalice,30\nbob,25\n"
	header, rows, err := ReadAllCSV(context.Background(), strings.NewReader(input), CSVOptions{HasHeader: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, header)
	assert.Equal(t, [][]string{{"alice", "30"}, {"bob", "25"}}, rows)
}

func TestReadAllCSV_HeaderOnly(t *testing.T) {
	header, rows, err := ReadAllCSV(context.Background(), strings.NewReader("x,y\n"), CSVOptions{HasHeader: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, header)
	assert.Empty(t, rows)
}
