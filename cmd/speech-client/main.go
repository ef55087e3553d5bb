// speech-client streams a WAV file to a speechd instance over the live
// transcription protocol, printing events as they arrive. It simulates live
// capture by pacing chunks at their real-time rate.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Branis333/brainink-speech/internal/audio"
	"github.com/Branis333/brainink-speech/internal/ws"
)

func main() {
	server := flag.String("server", "ws://localhost:8100/ws/transcribe", "speechd WebSocket URL")
	file := flag.String("file", "", "WAV file to stream")
	language := flag.String("language", "", "language hint (empty = auto-detect)")
	engine := flag.String("engine", "", "transcription engine (empty = server default)")
	speaker := flag.String("speaker", "", "speaker id attached to chunks")
	speakerName := flag.String("speaker-name", "", "speaker display name")
	reference := flag.String("reference", "", "known transcript for accuracy evaluation")
	chunkMS := flag.Int("chunk-ms", 500, "chunk duration in milliseconds")
	realtime := flag.Bool("realtime", true, "pace chunks at capture speed")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: speech-client -file recording.wav [-server ws://host:port/ws/transcribe]")
		os.Exit(1)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read file:", err)
		os.Exit(1)
	}
	samples, rate, err := audio.Decode(context.Background(), data, audio.FormatWAV, 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode wav:", err)
		os.Exit(1)
	}
	pcm := audio.SamplesToPCM16(samples)
	fmt.Printf("streaming %s: %.1fs of audio at %d Hz\n", *file, audio.Duration(len(samples), rate), rate)

	conn, _, err := websocket.DefaultDialer.Dial(*server+sessionQuery(*language, *engine, *reference), nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	done := make(chan string, 1)
	go readEvents(conn, done)

	var info *ws.SpeakerInfo
	if *speaker != "" {
		info = &ws.SpeakerInfo{SpeakerID: *speaker, Name: *speakerName}
	}

	chunkBytes := rate * 2 * (*chunkMS) / 1000
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	for i := 0; i < len(pcm); i += chunkBytes {
		end := i + chunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		msg := ws.ClientMessage{
			Type:        "audio_chunk",
			AudioData:   base64.StdEncoding.EncodeToString(pcm[i:end]),
			AudioFormat: "audio/pcm",
			SampleRate:  rate,
			Channels:    1,
			SpeakerInfo: info,
		}
		if err := conn.WriteJSON(msg); err != nil {
			fmt.Fprintln(os.Stderr, "send chunk:", err)
			os.Exit(1)
		}
		if *realtime {
			time.Sleep(time.Duration(*chunkMS) * time.Millisecond)
		}
	}

	if err := conn.WriteJSON(ws.ClientMessage{Type: "stop_recording"}); err != nil {
		fmt.Fprintln(os.Stderr, "send stop:", err)
		os.Exit(1)
	}

	select {
	case text := <-done:
		fmt.Println("\nfinal transcript:")
		fmt.Println(text)
	case <-time.After(60 * time.Second):
		fmt.Fprintln(os.Stderr, "timed out waiting for session_ended")
		os.Exit(1)
	}
}

func sessionQuery(language, engine, reference string) string {
	q := url.Values{}
	if language != "" {
		q.Set("language", language)
	}
	if engine != "" {
		q.Set("engine", engine)
	}
	if reference != "" {
		q.Set("reference", reference)
	}
	if enc := q.Encode(); enc != "" {
		return "?" + enc
	}
	return ""
}

func readEvents(conn *websocket.Conn, done chan<- string) {
	for {
		var ev ws.Event
		if err := conn.ReadJSON(&ev); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			done <- ""
			return
		}
		switch ev.Type {
		case "session_started":
			fmt.Printf("session %s started (engine %s)\n", ev.SessionID, ev.Engine)
		case "transcription":
			fmt.Printf("[seg %d] %s\n", ev.SegmentNumber, ev.Text)
		case "segment_completed":
			fmt.Printf("-- segment %d sealed (%s)\n", ev.SegmentNumber, ev.Reason)
		case "processing_error":
			fmt.Fprintln(os.Stderr, "server error:", ev.Error)
		case "session_ended":
			fmt.Printf("session ended: %d chunks, %d segments, %.1fs\n",
				ev.TotalChunks, len(ev.Segments), ev.DurationSeconds)
			if ev.WordErrorRate != nil {
				fmt.Printf("word error rate vs reference: %.3f\n", *ev.WordErrorRate)
			}
			var text string
			if ev.FinalText != nil {
				text = *ev.FinalText
			}
			done <- text
			return
		}
	}
}
