package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a user's token activity over a period.
type StatementData struct {
	UserEmail     string
	UserID        string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	GeneratedAt   time.Time
	BalanceTokens int64
	PackageName   string
	Lines         []StatementLine
}

type StatementLine struct {
	Date       time.Time
	ModuleName string
	Action     string
	Tokens     int64
}

// TotalTokens sums the consumed tokens across lines.
func (d StatementData) TotalTokens() int64 {
	var total int64
	for _, l := range d.Lines {
		total += l.Tokens
	}
	return total
}

type marotoProvider struct{}

func New() Provider {
	return &marotoProvider{}
}

const dateLayout = "2006-01-02"

func (p *marotoProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "IAHome token statement", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(22,
		col.New(7).Add(
			text.New("Account: "+data.UserEmail, props.Text{Top: 0}),
			text.New("User id: "+data.UserID, props.Text{Top: 5, Size: 8}),
			text.New(fmt.Sprintf("Period: %s to %s", data.PeriodStart.Format(dateLayout), data.PeriodEnd.Format(dateLayout)), props.Text{Top: 10}),
		),
		col.New(5).Add(
			text.New(fmt.Sprintf("Balance: %d tokens", data.BalanceTokens), props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(data.PackageName, props.Text{Top: 5, Align: align.Right}),
			text.New("Generated "+data.GeneratedAt.Format(time.RFC3339), props.Text{Top: 10, Size: 8, Align: align.Right}),
		),
	)

	m.AddRow(8,
		text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(5, "Module", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Action", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Tokens", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	if len(data.Lines) == 0 {
		m.AddRow(8, text.NewCol(12, "No usage in this period.", props.Text{Size: 9, Style: fontstyle.Italic}))
	}
	for _, l := range data.Lines {
		m.AddRow(7,
			text.NewCol(3, l.Date.Format("2006-01-02 15:04"), props.Text{Size: 9}),
			text.NewCol(5, l.ModuleName, props.Text{Size: 9}),
			text.NewCol(2, l.Action, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", l.Tokens), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total used", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, fmt.Sprintf("%d", data.TotalTokens()), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
