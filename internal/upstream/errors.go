package upstream

import (
	"fmt"

	"github.com/kagenti/mcp-hub/internal/huberrors"
)

func invalidConfigErr(server, format string, args ...any) error {
	return huberrors.New(huberrors.KindConfigInvalid, fmt.Sprintf("server %q: %s", server, fmt.Sprintf(format, args...)), nil)
}

func connectErr(server string, err error) error {
	return huberrors.New(huberrors.KindConnectFailed, fmt.Sprintf("connect to server %q", server), err)
}

func listToolsErr(server string, err error) error {
	return huberrors.New(huberrors.KindListToolsFailed, fmt.Sprintf("list tools on server %q", server), err)
}

func callErr(server, tool string, err error) *huberrors.HubError {
	return huberrors.New(huberrors.KindCallFailed, fmt.Sprintf("call tool %q on server %q", tool, server), err)
}
