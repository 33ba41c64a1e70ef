// Package console implements the terminal front-end shared by the host
// and the joining participant.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/adwski/whiteboard/backend/model"
	"github.com/adwski/whiteboard/backend/storage/file"
	"github.com/davecgh/go-spew/spew"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	defaultWidth    = 2
	defaultFontSize = 14
)

var (
	ErrQuit           = errors.New("quit")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
)

// Submitter sends a participant's own input into the session.
type Submitter interface {
	SubmitDraw(d model.Drawable) error
	SubmitChat(text string) error
}

// Replica is the participant's local view of the board.
type Replica interface {
	History() []model.Drawable
	Roster() []string
}

type Command func(args []string) error

type command struct {
	usage string
	run   Command
}

type pen struct {
	color    model.Color
	width    int
	fontSize int
}

// Console reads commands line by line. Lines starting with '/' are
// commands, anything else is sent as chat.
type Console struct {
	mx       sync.Mutex
	out      io.Writer
	sub      Submitter
	replica  Replica
	self     string
	manager  string
	commands map[string]command
	pen      pen
	logger   zerolog.Logger
}

type Config struct {
	Out       io.Writer
	Submitter Submitter
	Replica   Replica
	Username  string
	// Manager is shown as the host in /who.
	Manager string
	Logger  *zerolog.Logger
}

func New(cfg *Config) *Console {
	c := &Console{
		out:      cfg.Out,
		sub:      cfg.Submitter,
		replica:  cfg.Replica,
		self:     cfg.Username,
		manager:  cfg.Manager,
		commands: make(map[string]command),
		pen: pen{
			color:    model.Black,
			width:    defaultWidth,
			fontSize: defaultFontSize,
		},
		logger: cfg.Logger.With().Str("component", "console").Logger(),
	}

	c.Register("line", "/line x1 y1 x2 y2", c.shape(model.ShapeLine))
	c.Register("rect", "/rect x1 y1 x2 y2", c.shape(model.ShapeRectangle))
	c.Register("oval", "/oval x1 y1 x2 y2", c.shape(model.ShapeOval))
	c.Register("triangle", "/triangle x1 y1 x2 y2", c.shape(model.ShapeTriangle))
	c.Register("stroke", "/stroke x1 y1 [x2 y2 ...]", c.stroke)
	c.Register("erase", "/erase x1 y1 [x2 y2 ...]", c.erase)
	c.Register("text", "/text x y words...", c.text)
	c.Register("color", "/color #rrggbb", c.setColor)
	c.Register("width", "/width n", c.setWidth)
	c.Register("font", "/font size", c.setFontSize)
	c.Register("who", "/who", c.who)
	c.Register("save", "/save path", c.save)
	c.Register("dump", "/dump", c.dump)
	c.Register("help", "/help", c.help)
	c.Register("quit", "/quit", func([]string) error { return ErrQuit })
	return c
}

// Register adds or replaces a command.
func (c *Console) Register(name, usage string, run Command) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.commands[name] = command{usage: usage, run: run}
}

// Run processes lines from in until /quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(line)
			switch {
			case err == nil:
			case errors.Is(err, ErrQuit):
				return nil
			default:
				c.logger.Debug().Err(err).Str("line", line).Msg("command failed")
				c.printf("%s\n", color.Red.Sprint(err.Error()))
			}
		}
	}
}

// Exec runs one input line.
func (c *Console) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.sub.SubmitChat(line)
	}

	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return ErrUnknownCommand
	}
	c.mx.Lock()
	cmd, ok := c.commands[fields[0]]
	c.mx.Unlock()
	if !ok {
		return fmt.Errorf("%w: /%s", ErrUnknownCommand, fields[0])
	}
	if err := cmd.run(fields[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			return fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
		}
		return err
	}
	return nil
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *Console) currentPen() pen {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.pen
}

func (c *Console) shape(kind model.ShapeKind) Command {
	return func(args []string) error {
		points, err := parsePoints(args)
		if err != nil || len(points) != 2 {
			return ErrUsage
		}
		p := c.currentPen()
		return c.sub.SubmitDraw(model.NewShape(kind, points[0], points[1], p.color, p.width))
	}
}

func (c *Console) stroke(args []string) error {
	points, err := parsePoints(args)
	if err != nil || len(points) == 0 {
		return ErrUsage
	}
	p := c.currentPen()
	return c.sub.SubmitDraw(model.NewStroke(points, p.color, p.width))
}

func (c *Console) erase(args []string) error {
	points, err := parsePoints(args)
	if err != nil || len(points) == 0 {
		return ErrUsage
	}
	return c.sub.SubmitDraw(model.NewErase(points, c.currentPen().width))
}

func (c *Console) text(args []string) error {
	if len(args) < 3 {
		return ErrUsage
	}
	anchor, err := parsePoints(args[:2])
	if err != nil {
		return ErrUsage
	}
	p := c.currentPen()
	return c.sub.SubmitDraw(model.NewText(anchor[0], strings.Join(args[2:], " "), p.color, p.fontSize))
}

func (c *Console) setColor(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	col, err := model.ParseColor(args[0])
	if err != nil {
		return err
	}
	c.mx.Lock()
	c.pen.color = col
	c.mx.Unlock()
	return nil
}

func (c *Console) setWidth(args []string) error {
	n, err := parsePositive(args)
	if err != nil {
		return err
	}
	c.mx.Lock()
	c.pen.width = n
	c.mx.Unlock()
	return nil
}

func (c *Console) setFontSize(args []string) error {
	n, err := parsePositive(args)
	if err != nil {
		return err
	}
	c.mx.Lock()
	c.pen.fontSize = n
	c.mx.Unlock()
	return nil
}

func (c *Console) who([]string) error {
	table := tablewriter.NewWriter(c.out)
	table.SetHeader([]string{"#", "Username", "Role"})
	for i, username := range c.replica.Roster() {
		var role []string
		if username == c.manager {
			role = append(role, "manager")
		}
		if username == c.self {
			role = append(role, "you")
		}
		table.Append([]string{strconv.Itoa(i + 1), username, strings.Join(role, ", ")})
	}
	table.Render()
	return nil
}

func (c *Console) save(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	path, err := file.Save(args[0], c.replica.History())
	if err != nil {
		return err
	}
	c.printf("saved to %s\n", path)
	return nil
}

func (c *Console) dump([]string) error {
	spew.Fdump(c.out, c.replica.History())
	return nil
}

func (c *Console) help([]string) error {
	c.mx.Lock()
	usages := lo.MapToSlice(c.commands, func(_ string, cmd command) string { return cmd.usage })
	c.mx.Unlock()
	slices.Sort(usages)
	for _, usage := range usages {
		c.printf("  %s\n", usage)
	}
	c.printf("  anything else is sent as chat\n")
	return nil
}

func parsePoints(args []string) ([]model.Point, error) {
	if len(args)%2 != 0 {
		return nil, ErrUsage
	}
	points := make([]model.Point, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		x, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, err
		}
		y, err := strconv.Atoi(args[i+1])
		if err != nil {
			return nil, err
		}
		points = append(points, model.Point{X: x, Y: y})
	}
	return points, nil
}

func parsePositive(args []string) (int, error) {
	if len(args) != 1 {
		return 0, ErrUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, ErrUsage
	}
	return n, nil
}
