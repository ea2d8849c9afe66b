// Command relay-admin publishes a notification through the signed admin
// endpoint, the way other platform services do.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nzlov/relay/client"
)

var (
	addr    = flag.String("addr", "http://localhost:8080", "relay base url")
	secret  = flag.String("secret", "", "admin secret")
	users   = flag.String("users", "", "comma separated user ids; admin-broadcast reaches all staff")
	kind    = flag.String("type", "", "notification type")
	content = flag.String("content", "", "notification text")
	data    = flag.String("data", "", "optional JSON payload")
)

func main() {
	flag.Parse()
	if *secret == "" || *users == "" || *kind == "" {
		fmt.Fprintln(os.Stderr, "need -secret, -users and -type")
		os.Exit(2)
	}

	n := client.Notification{
		UserIDs: strings.Split(*users, ","),
		Type:    *kind,
		Content: *content,
	}
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			fmt.Fprintln(os.Stderr, "-data is not valid JSON")
			os.Exit(2)
		}
		n.Data = json.RawMessage(*data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ids, err := client.NewPublisher(*addr, *secret, nil).Publish(ctx, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(strings.Join(ids, "\n"))
}
