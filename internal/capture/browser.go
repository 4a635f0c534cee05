package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/povchingiz/google-meet-recording/internal/meeting"
)

const (
	googleSignInURL = "https://accounts.google.com/v3/signin/identifier?continue=https%3A%2F%2Fwww.google.com%2F&passive=true&hl=en&flowName=WebLiteSignIn&flowEntry=ServiceLogin"
	joinButtonXPath = `//span[contains(text(),'Join now') or contains(text(),'Ask to join')]/ancestor::button`
	// Evaluated in the meeting tab; true once Meet shows its post-call screen.
	meetingEndedJS = `(() => {
  const t = document.body ? document.body.innerText : "";
  return t.includes("You left the meeting") || t.includes("You've been removed") || t.includes("The call has ended") || t.includes("Return to home screen");
})()`
)

type ChromeOptions struct {
	Email        string
	Password     string
	Headless     bool
	PollInterval time.Duration
}

// ChromeBrowser signs a Google account into a fresh Chrome instance and joins
// Meet calls with it. One browser process backs one participant.
type ChromeBrowser struct {
	opts ChromeOptions
}

func NewChromeBrowser(opts ChromeOptions) (*ChromeBrowser, error) {
	if opts.Email == "" || opts.Password == "" {
		return nil, errors.New("google account email and password are required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &ChromeBrowser{opts: opts}, nil
}

type chromeParticipant struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	interval    time.Duration

	leftOnce  sync.Once
	left      chan struct{}
	closeOnce sync.Once
}

func (p *chromeParticipant) Left() <-chan struct{} { return p.left }

func (p *chromeParticipant) markLeft() {
	p.leftOnce.Do(func() { close(p.left) })
}

func (p *chromeParticipant) Close() error {
	p.closeOnce.Do(func() {
		p.cancelTab()
		p.cancelAlloc()
		p.markLeft()
	})
	return nil
}

// run executes actions in the participant's tab, aborting when ctx ends
// without tearing the tab down.
func (p *chromeParticipant) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (b *ChromeBrowser) Authenticate(ctx context.Context, req Request) (Participant, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", b.opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.WindowSize(1920, 1080),
	)
	// The browser must outlive this stage; Close tears it down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	p := &chromeParticipant{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		interval:    b.opts.PollInterval,
		left:        make(chan struct{}),
	}

	// First Run starts the browser bound to tabCtx; ctx only bounds the wait.
	launch := func() error { return chromedp.Run(tabCtx) }
	if err := launchWithin(ctx, launch, func() { _ = p.Close() }); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	err := p.run(ctx,
		chromedp.Navigate(googleSignInURL),
		chromedp.WaitVisible(`#identifierId`, chromedp.ByQuery),
		chromedp.SendKeys(`#identifierId`, b.opts.Email, chromedp.ByQuery),
		chromedp.Click(`#identifierNext`, chromedp.ByQuery),
		chromedp.WaitVisible(`input[type="password"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[type="password"]`, b.opts.Password, chromedp.ByQuery),
		chromedp.Click(`#passwordNext`, chromedp.ByQuery),
		waitForLocation(b.opts.PollInterval/5, signedIn),
	)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("google sign-in: %w", err)
	}
	log.Printf("event=browser_signed_in session_id=%s", req.SessionID)
	return p, nil
}

func (b *ChromeBrowser) Join(ctx context.Context, part Participant, req Request) error {
	p, ok := part.(*chromeParticipant)
	if !ok {
		return fmt.Errorf("participant %T was not created by this browser", part)
	}
	err := p.run(ctx,
		chromedp.Navigate(meeting.JoinURL(req.MeetingCode)),
		chromedp.Click(joinButtonXPath, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("join meeting %s: %w", req.MeetingCode, err)
	}
	go p.watchMeeting()
	return nil
}

// watchMeeting closes Left when the call ends or the tab goes away.
func (p *chromeParticipant) watchMeeting() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.tabCtx.Done():
			p.markLeft()
			return
		case <-p.left:
			return
		case <-ticker.C:
		}
		var ended bool
		if err := chromedp.Run(p.tabCtx, chromedp.Evaluate(meetingEndedJS, &ended)); err != nil {
			if p.tabCtx.Err() != nil {
				p.markLeft()
				return
			}
			continue
		}
		if ended {
			p.markLeft()
			return
		}
	}
}

// launchWithin runs launch and gives up when ctx ends first, calling abort so
// the launch returns before launchWithin does.
func launchWithin(ctx context.Context, launch func() error, abort func()) error {
	done := make(chan error, 1)
	go func() { done <- launch() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		abort()
		<-done
		return ctx.Err()
	}
}

func signedIn(location string) bool {
	return strings.Contains(location, "google.com") &&
		!strings.Contains(location, "signin") &&
		!strings.Contains(location, "challenge")
}

func waitForLocation(interval time.Duration, ok func(string) bool) chromedp.ActionFunc {
	if interval <= 0 {
		interval = time.Second
	}
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			var loc string
			if err := chromedp.Location(&loc).Do(ctx); err != nil {
				return err
			}
			if ok(loc) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
}
