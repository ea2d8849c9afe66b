// Command relay-client is a development client: it opens a session, prints
// every frame it receives and sends each stdin line as a message, falling
// back to REST when the socket is gone.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nzlov/relay/client"
	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/protocol"
)

var (
	addr    = flag.String("addr", "localhost:8080", "http service address")
	token   = flag.String("token", "", "bearer token")
	secret  = flag.String("secret", "", "jwt secret; issues a token for -user/-role when -token is empty")
	user    = flag.String("user", "", "user id for an issued token")
	role    = flag.String("role", "client", "role for an issued token")
	to      = flag.String("to", "", "receiver id (or thread user id when replying as support staff)")
	support = flag.Bool("support", false, "send on the support channel")
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	tk := *token
	if tk == "" {
		if *secret == "" || *user == "" {
			log.Fatalln("need -token, or -secret and -user")
		}
		var err error
		tk, err = auth.NewJWT(*secret).Issue(identity.Principal{ID: identity.UserID(*user), Role: identity.Role(*role)}, 24*time.Hour)
		if err != nil {
			log.Fatal("issue:", err)
		}
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sock, err := client.Dial(ctx, u.String(), tk)
	cancel()
	if err != nil {
		log.Println("dial:", err, "(messages will go over REST)")
	}

	var sender client.SocketSender
	if sock != nil {
		defer sock.Close()
		sender = sock
		go func() {
			for f := range sock.Frames() {
				switch f.Type {
				case protocol.TypeNewMessage:
					v, err := f.View()
					if err != nil {
						log.Println("read json:", err)
						continue
					}
					log.Printf("[%s] %s: %s", v.Timestamp.Format(time.Kitchen), v.SenderName, v.Content)
				case protocol.TypeUnreadCount:
					log.Printf("unread: %d", f.Data.Count)
				case protocol.TypeError:
					log.Printf("error: %s", f.ErrorText())
				default:
					log.Printf("recv: %+v", f)
				}
			}
			log.Println("socket closed")
		}()
	}

	sub := client.NewSubmitter(sender, client.NewREST("http://"+*addr, tk, nil))
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		res, err := sub.Submit(context.Background(), protocol.SendRequest{
			ReceiverID: *to,
			Content:    line,
			IsSupport:  *support,
		})
		if err != nil {
			log.Println("send:", err)
			continue
		}
		if res.View != nil {
			log.Printf("sent via %s: %s", res.Via, res.View.ID)
		}
	}
}
