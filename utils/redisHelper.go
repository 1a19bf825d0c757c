package utils

import (
	"fmt"
	"sort"
)

/*
read caches owned by the thread read APIs:
	ThreadList
	Thread:$threadId
	ThreadMessages:$threadId
	Inbox:User:$userId
*/

const ThreadListCacheKey = "ThreadList"

func ThreadCacheKey(threadId int) string {
	return "Thread:" + fmt.Sprint(threadId)
}

func ThreadMessagesCacheKey(threadId int) string {
	return "ThreadMessages:" + fmt.Sprint(threadId)
}

func UserInboxCacheKey(userId int) string {
	return "Inbox:User:" + fmt.Sprint(userId)
}

// ThreadCacheKeys lists every cache key touched by a change to the thread.
func ThreadCacheKeys(threadId int, participantIds []int) []string {
	keys := []string{
		ThreadListCacheKey,
		ThreadCacheKey(threadId),
		ThreadMessagesCacheKey(threadId),
	}
	ids := UniqueSlice(participantIds)
	sort.Ints(ids)
	for _, id := range ids {
		keys = append(keys, UserInboxCacheKey(id))
	}
	return keys
}
