package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallybot/backend/internal/handlers"
)

type fakeRouter struct {
	known     map[string]bool
	submitted []handlers.Command
	err       error
}

func (f *fakeRouter) Handles(name string) bool { return f.known[name] }

func (f *fakeRouter) Submit(cmd handlers.Command) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, cmd)
	return nil
}

func TestBot_Command(t *testing.T) {
	router := &fakeRouter{known: map[string]bool{"log": true, "logs": true}}
	bot := NewBot(nil, nil, router, "+")
	author := &discordgo.User{ID: "42", Username: "admin"}

	t.Run("known command", func(t *testing.T) {
		cmd, ok := bot.command(&discordgo.Message{
			GuildID: "g1", ChannelID: "c1", Author: author,
			Content: "+log <@7> Hat 5 cash",
		})
		require.True(t, ok)
		assert.Equal(t, "log", cmd.Name)
		assert.Equal(t, "g1", cmd.GuildID)
		assert.Equal(t, "c1", cmd.ChannelID)
		assert.Equal(t, "42", cmd.Author.ID)
		assert.Equal(t, []string{"<@7>", "Hat", "5", "cash"}, cmd.Args)
		assert.NotEmpty(t, cmd.ID)
	})

	t.Run("ignored messages", func(t *testing.T) {
		for _, m := range []*discordgo.Message{
			{GuildID: "g1", Author: author, Content: "+dance"},
			{GuildID: "g1", Author: author, Content: "log <@7> 5"},
			{GuildID: "", Author: author, Content: "+logs <@7>"},
			{GuildID: "g1", Author: &discordgo.User{ID: "9", Bot: true}, Content: "+logs <@7>"},
			{GuildID: "g1", Content: "+logs <@7>"},
		} {
			_, ok := bot.command(m)
			assert.False(t, ok, m.Content)
		}
	})

	t.Run("submits", func(t *testing.T) {
		bot.onMessage(&discordgo.Message{GuildID: "g1", ChannelID: "c1", Author: author, Content: "+logs <@7>"})
		require.Len(t, router.submitted, 1)
		assert.Equal(t, "logs", router.submitted[0].Name)
	})
}

func TestToMember(t *testing.T) {
	m := toMember(&discordgo.Member{
		User:  &discordgo.User{ID: "7", Username: "alice", GlobalName: "Alice A"},
		Nick:  "Ali",
		Roles: []string{"1", "2"},
	})
	assert.Equal(t, "7", m.ID)
	assert.Equal(t, "Ali", m.DisplayName)
	assert.True(t, m.HasRole("2"))
	assert.Equal(t, "<@7>", m.Mention())

	m = toMember(&discordgo.Member{User: &discordgo.User{ID: "8", Username: "bob"}})
	assert.Equal(t, "bob", m.DisplayName)
}

func TestLookups(t *testing.T) {
	members := []*discordgo.Member{
		{User: &discordgo.User{ID: "1", Username: "alice"}},
		{User: &discordgo.User{ID: "2", Username: "bob99", GlobalName: "Bob"}, Nick: "Bobby"},
	}
	assert.Equal(t, "1", memberByName(members, "ALICE").User.ID)
	assert.Equal(t, "2", memberByName(members, "bobby").User.ID)
	assert.Equal(t, "2", memberByName(members, "bob").User.ID)
	assert.Nil(t, memberByName(members, "carol"))

	roles := []*discordgo.Role{{ID: "10", Name: "Seller"}, {ID: "11", Name: "VIP Buyers"}}
	assert.Equal(t, "11", findRole(roles, "vip buyers").ID)
	assert.Equal(t, "10", findRole(roles, "<@&10>").ID)
	assert.Nil(t, findRole(roles, "<@&12>"))
	assert.Nil(t, findRole(roles, "Ghost"))
}
