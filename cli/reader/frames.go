package reader

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/justapithecus/llmer/ipc"
	"github.com/justapithecus/llmer/lode"
	"github.com/justapithecus/llmer/types"
)

// previewRunes bounds the text preview of non-verbose frame views.
const previewRunes = 60

// DecodeFrames decodes a capture of inbound frames. It returns the frames
// decoded before the first framing error together with that error.
func DecodeFrames(r io.Reader, verbose bool) ([]FrameView, error) {
	dec := ipc.NewFrameDecoder(r)

	var views []FrameView
	var offset int64
	for {
		frame, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			return views, nil
		}
		if err != nil {
			return views, err
		}

		role := types.RoleCode(frame.Code)
		view := FrameView{
			Offset: offset,
			Role:   role.String(),
			Code:   frame.Code,
			Length: len(frame.Payload),
		}
		if role == types.RoleImageUpload {
			view.Preview = lode.SniffImageType(frame.Payload)
		} else {
			view.Preview = preview(frame.Payload, verbose)
		}
		views = append(views, view)
		offset += int64(ipc.HeaderSize + len(frame.Payload))
	}
}

func preview(payload []byte, verbose bool) string {
	text := strings.ToValidUTF8(string(payload), "\uFFFD")
	if verbose || utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "..."
}
