package vm

import (
	"fmt"
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestMessageCatalog(t *testing.T) {
	printer := newMessagePrinter(language.English)
	for key, msg := range englishMessages {
		args := make([]any, strings.Count(msg, "%s"))
		for i := range args {
			args[i] = "x"
		}
		if got, want := printer.Sprintf(key, args...), fmt.Sprintf(msg, args...); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestThrowSystemMessage(t *testing.T) {
	tp := newTestProgram(t)
	th := tp.p.NewThread()
	defer th.Close()

	th.ThrowSystem("System.MissingMethodException", ResMissingMethod, "Test.Program::Nope")
	me := th.managedError(th.Exception())
	if me.Class != "System.MissingMethodException" {
		t.Errorf("Class = %q", me.Class)
	}
	if want := "Method not found: 'Test.Program::Nope'."; me.Message != want {
		t.Errorf("Message = %q, want %q", me.Message, want)
	}
}
