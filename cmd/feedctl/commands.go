package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docopt/docopt-go"

	"feedsync/pkg/apperr"
	"feedsync/pkg/models"
	"feedsync/pkg/projector"
)

func intArg(opts docopt.Opts, name string) (int, error) {
	n, err := opts.Int(name)
	if err != nil {
		return 0, apperr.Validation("%s must be a number", name)
	}
	return n, nil
}

func (a *app) byID(ctx context.Context, opts docopt.Opts, cmd func(context.Context, int) error) error {
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	a.engine.Restore(ctx)
	return cmd(ctx, id)
}

func (a *app) post(ctx context.Context, opts docopt.Opts) error {
	body, _ := opts.String("<body>")
	var parent *int
	if v, _ := opts.String("--parent"); v != "" {
		id, err := intArg(opts, "--parent")
		if err != nil {
			return err
		}
		parent = &id
	}
	a.engine.Restore(ctx)
	return a.engine.CreatePost(ctx, body, parent)
}

func (a *app) edit(ctx context.Context, opts docopt.Opts) error {
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	body, _ := opts.String("<body>")
	a.engine.Restore(ctx)
	return a.engine.UpdateBody(ctx, id, body)
}

func (a *app) thread(ctx context.Context, opts docopt.Opts) error {
	id, err := intArg(opts, "<id>")
	if err != nil {
		return err
	}
	depth, err := intArg(opts, "--depth")
	if err != nil {
		return err
	}

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	if err := a.engine.Sync(ctx); err != nil {
		return err
	}

	root, ok := a.engine.Post(id)
	if !ok {
		return apperr.StaleReference("post %d not found", id)
	}
	printPost(os.Stdout, root, a.engine.ReplyCount(root.ID), 0)
	a.printTree(os.Stdout, a.engine.Tree(root.ID, depth), 1)
	return nil
}

// watch keeps the feed on screen and redraws on every change. Lines read
// from stdin steer it: n and p page, /term searches, / clears, q quits.
func (a *app) watch(ctx context.Context, opts docopt.Opts) error {
	size, err := intArg(opts, "--size")
	if err != nil {
		return err
	}
	page, err := intArg(opts, "--page")
	if err != nil {
		return err
	}
	pager := projector.NewPager(size)
	pager.SetTerm(stringOr(opts, "--search", ""))
	pager.SetPage(page)

	redraw := make(chan struct{}, 1)
	a.engine.OnChange(func() {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})

	if err := a.engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "feedctl: %s (waiting for live updates)\n", describe(err))
	}

	input := make(chan string)
	go func() {
		defer close(input)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			input <- strings.TrimSpace(sc.Text())
		}
	}()

	a.render(os.Stdout, pager)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-redraw:
		case line, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			switch {
			case line == "q":
				return nil
			case line == "n":
				pager.Next()
			case line == "p":
				pager.Prev()
			case strings.HasPrefix(line, "/"):
				pager.SetTerm(strings.TrimPrefix(line, "/"))
			}
		}
		a.render(os.Stdout, pager)
	}
}

func (a *app) render(w io.Writer, pager *projector.Pager) {
	page := a.engine.Search(pager)

	who := "anonymous"
	if s, ok := a.engine.Session(); ok {
		who = s.User.Username
	}
	fmt.Fprintf(w, "\n── feed (%s, %s) ── page %d/%d, %d posts", who, a.engine.ChannelState(), page.Number, page.Pages, page.Total)
	if pager.Term() != "" {
		fmt.Fprintf(w, " matching %q", pager.Term())
	}
	fmt.Fprintln(w)

	for _, p := range page.Items {
		printPost(w, p, a.engine.ReplyCount(p.ID), 0)
	}
	if page.Total == 0 {
		fmt.Fprintln(w, "  (nothing here yet)")
	}
	if n := len(a.engine.Orphans()); n > 0 {
		fmt.Fprintf(w, "  (%d replies to posts no longer here)\n", n)
	}
}

func printPost(w io.Writer, p models.Post, replies, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s#%d %s  ♥ %d", indent, p.ID, p.Author, p.Likes)
	if replies > 0 {
		fmt.Fprintf(w, "  ↳ %d", replies)
	}
	fmt.Fprintf(w, "\n%s  %s\n", indent, p.Body)
}

func (a *app) printTree(w io.Writer, nodes []projector.Node, depth int) {
	for _, n := range nodes {
		printPost(w, n.Post, a.engine.ReplyCount(n.Post.ID), depth)
		a.printTree(w, n.Replies, depth+1)
	}
}
