package middleware

import (
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/muesli/termenv"
	"github.com/veldt/anancus/ui"
	"github.com/veldt/anancus/util"
)

// AuditTui serves the read-only audit console over SSH. Every session
// gets logged with the key fingerprint that opened it.
func AuditTui() wish.Middleware {
	teaHandler := func(s ssh.Session) *tea.Program {
		pty, _, active := s.Pty()
		if !active {
			wish.Println(s, "no active terminal, skipping")
			return nil
		}

		util.LogPublicKey(s)
		if s.PublicKey() != nil {
			log.Printf("Audit console: session key %s", util.PkToHash(util.PublicKeyToString(s.PublicKey())))
		}

		m := ui.NewModel(pty.Window.Width, pty.Window.Height)
		return tea.NewProgram(m, tea.WithInput(s), tea.WithOutput(s), tea.WithAltScreen())
	}
	return bm.MiddlewareWithProgramHandler(teaHandler, termenv.ANSI256)
}
