// Command audioclient is a reference client: it authenticates as a device,
// streams a raw PCM file as framed audio, and prints the transcripts and
// answers the server sends back.
package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satriahrh/wicara/server/audio"
)

type deviceAuthRequest struct {
	SerialNumber string `json:"serial_number"`
	SecretKey    string `json:"secret_key"`
}

type deviceAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	DeviceID  string    `json:"device_id"`
}

type controlMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Speed   int    `json:"speed,omitempty"`
}

var (
	serverAddr = flag.String("server", "localhost:8080", "server host:port")
	serial     = flag.String("serial", "WICARA001", "device serial number")
	secret     = flag.String("secret", "secret123", "device secret key")
	pcmFile    = flag.String("pcm", "", "raw 16-bit little-endian PCM file to stream")
	sampleRate = flag.Int("rate", audio.DefaultSampleRate, "sample rate of the PCM file")
)

func main() {
	flag.Parse()
	if *pcmFile == "" {
		log.Fatal("missing -pcm file")
	}

	token, deviceID, err := authenticateDevice()
	if err != nil {
		log.Fatal("Failed to authenticate device:", err)
	}
	log.Printf("Successfully authenticated device: %s", deviceID)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})
	var playing atomic.Bool

	go handleIncomingMessages(c, &playing, done)

	if err := streamFile(c, &playing); err != nil {
		log.Println("stream:", err)
	}

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-time.After(30 * time.Second):
		log.Println("timed out waiting for server")
	}
}

func authenticateDevice() (string, string, error) {
	authReq := deviceAuthRequest{
		SerialNumber: *serial,
		SecretKey:    *secret,
	}

	jsonData, err := json.Marshal(authReq)
	if err != nil {
		return "", "", err
	}

	resp, err := http.Post("http://"+*serverAddr+"/api/v1/device/auth", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("authentication failed: %s", string(body))
	}

	var authResp deviceAuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return "", "", err
	}
	return authResp.Token, authResp.DeviceID, nil
}

// streamFile pushes the PCM file through a framer and sends the surviving
// frames at their real-time pace. Silent frames are gated out client-side,
// exactly as a device would.
func streamFile(c *websocket.Conn, playing *atomic.Bool) error {
	data, err := os.ReadFile(*pcmFile)
	if err != nil {
		return err
	}

	framer := audio.NewFramer(audio.FramerConfig{
		SampleRate:    *sampleRate,
		GateThreshold: 100,
	}, func(frame []byte) error {
		return c.WriteMessage(websocket.BinaryMessage, frame)
	})

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}

	frameSamples := audio.DefaultFrameSamples
	frameInterval := time.Duration(frameSamples) * time.Second / time.Duration(*sampleRate)

	log.Printf("streaming %d samples (%s of audio)",
		len(samples),
		time.Duration(len(samples))*time.Second/time.Duration(*sampleRate))

	for start := 0; start < len(samples); start += frameSamples {
		end := start + frameSamples
		if end > len(samples) {
			end = len(samples)
		}
		framer.SetPlaybackActive(playing.Load())
		if err := framer.Push(samples[start:end]); err != nil {
			return err
		}
		time.Sleep(frameInterval)
	}
	return framer.Close()
}

func handleIncomingMessages(c *websocket.Conn, playing *atomic.Bool, done chan struct{}) {
	defer close(done)

	var playbackTimer *time.Timer

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("unparseable message: %s", message)
			continue
		}

		switch msg.Type {
		case "partial_user_request":
			log.Printf("[partial] you said: %s", msg.Content)
		case "final_user_request":
			log.Printf("you said: %s", msg.Content)
		case "final_assistant_answer":
			log.Printf("assistant: %s", msg.Content)
		case "tts_chunk":
			// Pretend to play: report tts_start on the first chunk and
			// tts_stop shortly after the last one.
			if playing.CompareAndSwap(false, true) {
				sendControl(c, controlMessage{Type: "tts_start"})
			}
			if playbackTimer != nil {
				playbackTimer.Stop()
			}
			playbackTimer = time.AfterFunc(500*time.Millisecond, func() {
				if playing.CompareAndSwap(true, false) {
					sendControl(c, controlMessage{Type: "tts_stop"})
				}
			})
		case "tts_interruption", "stop_tts":
			log.Printf("server: %s", msg.Type)
			if playing.CompareAndSwap(true, false) {
				sendControl(c, controlMessage{Type: "tts_stop"})
			}
		case "error":
			log.Printf("server error: %s", msg.Content)
		default:
			log.Printf("unknown message type: %s", msg.Type)
		}
	}
}

func sendControl(c *websocket.Conn, msg controlMessage) {
	data, _ := json.Marshal(msg)
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Println("write control:", err)
	}
}
