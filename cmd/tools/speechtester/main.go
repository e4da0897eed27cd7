package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/heritage-guide/backend/internal/config"
	chatmodel "github.com/zhouzirui/heritage-guide/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/heritage-guide/backend/internal/model/speech"
	"github.com/zhouzirui/heritage-guide/backend/internal/model/voice"
	"github.com/zhouzirui/heritage-guide/backend/internal/service/chat"
	"github.com/zhouzirui/heritage-guide/backend/internal/service/speech"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: tts 或 chat")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径；chat 模式下为音频保存目录")
	voiceCode := flag.String("voice", "", "voice 代码，例如 en-US、zh-CN，默认使用配置")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "TTS 请求超时时间")
	tts := flag.Bool("tts", true, "chat 模式下是否自动朗读回复")

	flag.Parse()

	voices := voice.NewMemoryStore(voice.Seed(), cfg.Widget.DefaultVoice)
	svc := speech.NewService(cfg.Speech.Model())
	log.Printf("使用语音合成实现: %s", svc.Provider())

	switch *mode {
	case "tts":
		sessionID := *session
		if sessionID == "" {
			sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		runTTS(ctx, svc, voices, sessionID, *text, *voiceCode, *outputPath)
	case "chat":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		runChat(ctx, svc, voices, cfg, *voiceCode, *tts, *outputPath)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=tts 或 -mode=chat 指定测试模式")
	}
}

func runTTS(ctx context.Context, svc *speech.Service, voices voice.Store, sessionID, text, code, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	v := voices.Default()
	if code != "" {
		found, ok := voices.FindByCode(code)
		if !ok {
			log.Fatalf("不支持的 voice: %s", code)
		}
		v = found
	}

	req := &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     v.VoiceID,
		Language:  v.Code,
	}

	log.Printf("开始进行 TTS 测试: session=%s voice=%s(%s)", sessionID, v.Code, v.VoiceID)

	resp, err := svc.Synthesize(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), resp.Format)
	}
	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, 时长=%dms", outputPath, resp.Duration)
}

// runChat 在终端里驱动一个完整的挂件会话
func runChat(ctx context.Context, svc *speech.Service, voices voice.Store, cfg *config.Config, code string, tts bool, audioDir string) {
	chatSvc := chat.NewService(svc, voices,
		chat.WithEngineOptions(chat.WithReplyDelay(cfg.Widget.ReplyDelay)),
		chat.WithTTSEnabled(tts),
		chat.WithMaxPlayback(cfg.Widget.MaxPlayback),
	)
	defer chatSvc.CloseAll()

	conv, err := chatSvc.CreateSession(ctx, code)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}
	detach := conv.AttachSink(&consoleSink{out: os.Stdout, dir: audioDir})
	defer detach()

	views, cancel := conv.Subscribe()
	defer cancel()
	go printTranscript(views)

	fmt.Println("输入消息回车发送；命令: /clear /tts on|off /voice <code> /play /stop /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, conv, line); quit {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, conv *chat.Conversation, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		if _, err := conv.Submit(line); err != nil && !errors.Is(err, chat.ErrEmptyInput) {
			fmt.Printf("! %v\n", err)
		}
		return false
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/clear":
		conv.Clear()
	case "/stop":
		conv.StopPlayback()
	case "/tts":
		enabled := !conv.View().Playback.TTSEnabled
		if len(fields) > 1 {
			enabled = fields[1] == "on"
		}
		conv.SetTTSEnabled(enabled)
		fmt.Printf("* 自动朗读: %v\n", enabled)
	case "/voice":
		if len(fields) < 2 {
			fmt.Println("! 用法: /voice <code>")
			break
		}
		if err := conv.SelectVoice(fields[1]); err != nil {
			fmt.Printf("! %v\n", err)
		}
	case "/play":
		// 朗读最后一条机器人消息
		msgs := conv.View().Messages
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Sender == chatmodel.SenderBot {
				if err := conv.Play(ctx, msgs[i].ID); err != nil {
					fmt.Printf("! %v\n", err)
				}
				break
			}
		}
	default:
		fmt.Printf("! 未知命令 %s\n", fields[0])
	}
	return false
}

// printTranscript 打印新增消息与状态变化
func printTranscript(views <-chan chat.View) {
	var (
		printed string
		seen    = make(map[string]bool)
		typing  bool
		playing bool
	)
	for view := range views {
		if len(view.Messages) > 0 && view.Messages[0].ID != printed {
			// 清空后重新开始
			printed = view.Messages[0].ID
			seen = make(map[string]bool)
		}
		for _, msg := range view.Messages {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			fmt.Printf("%s> %s\n", msg.Sender, msg.Text)
		}
		if view.IsTyping && !typing {
			fmt.Println("  ...")
		}
		typing = view.IsTyping
		if playing && !view.Playback.IsPlaying && view.Playback.LastError != "" {
			fmt.Printf("! 朗读失败: %s\n", view.Playback.LastError)
		}
		playing = view.Playback.IsPlaying
	}
}

// consoleSink 在终端模拟播放，并可选地把音频写入目录
type consoleSink struct {
	out *os.File
	dir string
}

func (s *consoleSink) Play(ctx context.Context, clip speech.Clip) error {
	if s.dir != "" {
		path := filepath.Join(s.dir, fmt.Sprintf("%s-%d.%s", clip.MessageID, clip.Token, clip.Format))
		if err := os.WriteFile(path, clip.Audio, 0o644); err != nil {
			log.Printf("[tts] 写入音频失败: %v", err)
		}
	}

	fmt.Fprintf(s.out, "  [朗读中 %s, %d bytes]\n", clip.Duration.Round(time.Millisecond), len(clip.Audio))
	if err := (speech.TimedSink{}).Play(ctx, clip); err != nil {
		fmt.Fprintln(s.out, "  [朗读已停止]")
		return err
	}
	fmt.Fprintln(s.out, "  [朗读结束]")
	return nil
}
